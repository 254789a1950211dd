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

const developerSystemPrompt = `You are a Software Developer AI responsible for implementing technical designs.

Your tasks:
1. Review the architecture and component breakdown
2. Produce an implementation plan broken into modules
3. Generate code skeletons for each module
4. Flag missing requirements or design gaps

Always respond with structured JSON containing:
- implementation_plan: Ordered list of implementation steps
- modules: Array of modules with file names and code outlines
- dependencies: External libraries or services needed
- open_issues: Gaps that need clarification
- confidence: Your confidence score (0.0 to 1.0)

Favor small, working increments over completeness.`

// Developer turns the architect's design into an implementation plan and
// hands it to the tester.
type Developer struct {
	*Base
}

// NewDeveloper creates the developer agent.
func NewDeveloper(client llm.Client, st *store.Store, broker *events.Broker) *Developer {
	return &Developer{Base: newBase("developer", "Developer", client, st, broker)}
}

// ProcessMessage handles handoff messages from the architect.
func (d *Developer) ProcessMessage(ctx context.Context, msg *models.Message) (*Result, error) {
	if d.Paused() {
		return nil, ErrPaused
	}
	if msg.MessageType != models.MessageTypeHandoff {
		return nil, fmt.Errorf("developer: unsupported message type %q", msg.MessageType)
	}

	d.SetStatus(StatusWorking, "Implementing design")

	design := msg.DecodeContent()
	encoded, _ := json.MarshalIndent(design, "", "  ")
	prompt := fmt.Sprintf(
		"Based on this architecture, produce an implementation plan with module-level code outlines:\n\nDesign: %s\n\nRespond with JSON only.",
		string(encoded),
	)

	implementation, tokens, err := d.generateJSON(ctx, prompt, developerSystemPrompt, 0.2)
	if err != nil {
		d.SetStatus(StatusError, fmt.Sprintf("LLM error: %v", err))
		return nil, err
	}

	confidence := confidenceFrom(implementation)
	if confidence < d.confidenceThreshold {
		if _, err := d.escalate(msg.ProjectID,
			fmt.Sprintf("Implementation confidence %.2f is below threshold; review the plan before testing.", confidence),
			[]string{"Approve plan", "Request changes", "Abort"}); err != nil {
			return nil, err
		}
		d.SetStatus(StatusIdle, "Awaiting human review of implementation plan")
		return &Result{Status: "escalated", Output: implementation, TokensUsed: tokens}, nil
	}

	handoff := map[string]interface{}{
		"design":         design,
		"implementation": implementation,
	}
	if _, err := d.sendMessage(msg.ProjectID, "tester", models.MessageTypeHandoff, handoff, &confidence); err != nil {
		d.SetStatus(StatusError, "Failed to hand off implementation")
		return nil, err
	}

	d.SetStatus(StatusIdle, "Implementation complete")
	return &Result{Status: "complete", Output: implementation, TokensUsed: tokens}, nil
}
