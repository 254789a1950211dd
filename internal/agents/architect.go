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

const architectSystemPrompt = `You are a Software Architect AI responsible for creating technical designs.

Your tasks:
1. Review business analysis and user stories
2. Create system architecture and component design
3. Select appropriate technology stack
4. Design API specifications and data models
5. Plan deployment and infrastructure

Always respond with structured JSON containing:
- architecture: High-level system design
- components: List of components with responsibilities
- tech_stack: Selected technologies with justification
- api_design: API endpoints and data models
- deployment_plan: Infrastructure and deployment strategy
- confidence: Your confidence score (0.0 to 1.0)
- concerns: Any technical concerns or trade-offs

Focus on simple, maintainable solutions for POC development.`

// Architect turns the analyst's output into a technical design and hands it
// to the developer.
type Architect struct {
	*Base
}

// NewArchitect creates the architect agent.
func NewArchitect(client llm.Client, st *store.Store, broker *events.Broker) *Architect {
	return &Architect{Base: newBase("architect", "Architect", client, st, broker)}
}

// ProcessMessage handles handoff messages from the analyst.
func (a *Architect) ProcessMessage(ctx context.Context, msg *models.Message) (*Result, error) {
	if a.Paused() {
		return nil, ErrPaused
	}
	if msg.MessageType != models.MessageTypeHandoff {
		return nil, fmt.Errorf("architect: unsupported message type %q", msg.MessageType)
	}

	a.SetStatus(StatusThinking, "Creating architecture")

	analysis := msg.DecodeContent()
	encoded, _ := json.MarshalIndent(analysis, "", "  ")
	prompt := fmt.Sprintf(
		"Based on this business analysis, create a technical architecture:\n\nAnalysis: %s\n\nDesign a simple, maintainable architecture suitable for a POC.\nRespond with JSON only.",
		string(encoded),
	)

	architecture, tokens, err := a.generateJSON(ctx, prompt, architectSystemPrompt, 0.2)
	if err != nil {
		a.SetStatus(StatusError, fmt.Sprintf("LLM error: %v", err))
		return nil, err
	}

	confidence := confidenceFrom(architecture)
	if confidence < a.confidenceThreshold {
		if _, err := a.escalate(msg.ProjectID,
			fmt.Sprintf("Architecture confidence %.2f is below threshold; review before implementation starts.", confidence),
			[]string{"Approve design", "Request redesign", "Abort"}); err != nil {
			return nil, err
		}
		a.SetStatus(StatusIdle, "Awaiting human review of architecture")
		return &Result{Status: "escalated", Output: architecture, TokensUsed: tokens}, nil
	}

	handoff := map[string]interface{}{
		"analysis":     analysis,
		"architecture": architecture,
	}
	if _, err := a.sendMessage(msg.ProjectID, "developer", models.MessageTypeHandoff, handoff, &confidence); err != nil {
		a.SetStatus(StatusError, "Failed to hand off architecture")
		return nil, err
	}

	a.SetStatus(StatusIdle, "Architecture complete")
	return &Result{Status: "complete", Output: architecture, TokensUsed: tokens}, nil
}
