package agents

import (
	"context"
	"fmt"

	"botarmy/internal/events"
	"botarmy/internal/llm"
	"botarmy/internal/models"
	"botarmy/internal/store"
)

const analystSystemPrompt = `You are a Business Analyst AI responsible for analyzing requirements and creating user stories.

Your tasks:
1. Analyze user requirements for clarity and completeness
2. Create detailed user stories with acceptance criteria
3. Identify potential risks and constraints
4. Generate success metrics

Always respond with structured JSON containing:
- analysis: Your analysis of the requirements
- user_stories: Array of user stories with acceptance criteria
- risks: Identified risks and mitigation strategies
- success_metrics: Measurable success criteria
- confidence: Your confidence score (0.0 to 1.0)
- next_steps: What should happen next

Be concise but thorough. Ask for clarification if requirements are unclear.`

// Analyst turns raw requirements into a structured analysis and hands it to
// the architect.
type Analyst struct {
	*Base
}

// NewAnalyst creates the analyst agent.
func NewAnalyst(client llm.Client, st *store.Store, broker *events.Broker) *Analyst {
	return &Analyst{Base: newBase("analyst", "Analyst", client, st, broker)}
}

// ProcessMessage handles start_analysis messages.
func (a *Analyst) ProcessMessage(ctx context.Context, msg *models.Message) (*Result, error) {
	if a.Paused() {
		return nil, ErrPaused
	}
	if msg.MessageType != models.MessageTypeStartAnalysis {
		return nil, fmt.Errorf("analyst: unsupported message type %q", msg.MessageType)
	}

	a.SetStatus(StatusThinking, "Analyzing requirements")

	requirements, _ := msg.DecodeContent()["requirements"].(string)
	prompt := fmt.Sprintf(
		"Analyze these product requirements and create a comprehensive analysis:\n\nRequirements: %s\n\nCreate user stories, identify risks, and suggest success metrics.\nRespond with JSON only.",
		requirements,
	)

	analysis, tokens, err := a.generateJSON(ctx, prompt, analystSystemPrompt, 0.3)
	if err != nil {
		a.SetStatus(StatusError, fmt.Sprintf("LLM error: %v", err))
		return nil, err
	}

	confidence := confidenceFrom(analysis)
	if confidence < a.confidenceThreshold {
		if _, err := a.escalate(msg.ProjectID,
			fmt.Sprintf("Analysis confidence %.2f is below threshold; review before handing off to the architect.", confidence),
			[]string{"Approve analysis", "Rewrite requirements", "Abort"}); err != nil {
			return nil, err
		}
		a.SetStatus(StatusIdle, "Awaiting human review of analysis")
		return &Result{Status: "escalated", Output: analysis, TokensUsed: tokens}, nil
	}

	if _, err := a.sendMessage(msg.ProjectID, "architect", models.MessageTypeHandoff, analysis, &confidence); err != nil {
		a.SetStatus(StatusError, "Failed to hand off analysis")
		return nil, err
	}

	a.SetStatus(StatusIdle, "Analysis complete")
	return &Result{Status: "complete", Output: analysis, TokensUsed: tokens}, nil
}
