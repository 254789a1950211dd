package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"botarmy/internal/events"
	"botarmy/internal/llm"
	"botarmy/internal/models"
	"botarmy/internal/store"
)

const testerSystemPrompt = `You are a QA Tester AI responsible for validating implementations.

Your tasks:
1. Review the implementation plan and code outlines
2. Create a test plan covering unit, integration and edge cases
3. Identify untestable or under-specified behavior
4. Summarize overall quality risk

Always respond with structured JSON containing:
- test_plan: Ordered list of test cases with expected outcomes
- coverage_gaps: Behavior that cannot be verified yet
- quality_risks: Risk summary with severity
- verdict: "pass", "fail" or "needs_review"
- confidence: Your confidence score (0.0 to 1.0)

Be specific: every test case names the module it exercises.`

// Tester is the terminal pipeline stage: it validates the developer's output
// and raises a final review action for the human.
type Tester struct {
	*Base
}

// NewTester creates the tester agent.
func NewTester(client llm.Client, st *store.Store, broker *events.Broker) *Tester {
	return &Tester{Base: newBase("tester", "Tester", client, st, broker)}
}

// ProcessMessage handles handoff messages from the developer.
func (t *Tester) ProcessMessage(ctx context.Context, msg *models.Message) (*Result, error) {
	if t.Paused() {
		return nil, ErrPaused
	}
	if msg.MessageType != models.MessageTypeHandoff {
		return nil, fmt.Errorf("tester: unsupported message type %q", msg.MessageType)
	}

	t.SetStatus(StatusWorking, "Validating implementation")

	implementation := msg.DecodeContent()
	encoded, _ := json.MarshalIndent(implementation, "", "  ")
	prompt := fmt.Sprintf(
		"Review this implementation plan and produce a test plan with a quality verdict:\n\nImplementation: %s\n\nRespond with JSON only.",
		string(encoded),
	)

	report, tokens, err := t.generateJSON(ctx, prompt, testerSystemPrompt, 0.2)
	if err != nil {
		t.SetStatus(StatusError, fmt.Sprintf("LLM error: %v", err))
		return nil, err
	}

	verdict, _ := report["verdict"].(string)
	if verdict == "" {
		verdict = "needs_review"
	}

	// The pipeline ends with a human decision either way.
	if _, err := t.escalate(msg.ProjectID,
		fmt.Sprintf("Test run finished with verdict %q. Review the test report and decide how to proceed.", verdict),
		[]string{"Accept", "Send back to developer", "Abort"}); err != nil {
		return nil, err
	}

	t.SetStatus(StatusIdle, "Testing complete")
	return &Result{Status: "complete", Output: report, TokensUsed: tokens}, nil
}
