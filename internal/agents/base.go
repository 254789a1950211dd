// Package agents implements the BotArmy workflow pipeline: four LLM-prompting
// agents (analyst, architect, developer, tester) that hand work to each other
// through the SQLite message queue and escalate decisions to humans via
// actions.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"botarmy/internal/events"
	"botarmy/internal/llm"
	"botarmy/internal/logging"
	"botarmy/internal/models"
	"botarmy/internal/store"
)

// Status is an agent lifecycle state.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusWorking  Status = "working"
	StatusThinking Status = "thinking"
	StatusError    Status = "error"
	StatusPaused   Status = "paused"
)

// ErrPaused is returned when a paused agent is asked to process a message.
var ErrPaused = errors.New("agents: agent is paused")

// View is the wire representation of agent state, carried in agent_update
// events and the /api/agents response. Timestamp is server-assigned so
// clients can merge updates in arrival-order-independent fashion.
type View struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CurrentTask string    `json:"current_task,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Result is the outcome of processing one queue message.
type Result struct {
	Status     string                 `json:"status"`
	Output     map[string]interface{} `json:"output,omitempty"`
	TokensUsed int                    `json:"tokens_used"`
}

// Agent is one pipeline stage.
type Agent interface {
	ID() string
	Role() string
	ProcessMessage(ctx context.Context, msg *models.Message) (*Result, error)
	View() View
	SetStatus(status Status, task string)
	Paused() bool
}

// Base carries the state and collaborator wiring shared by all agents.
type Base struct {
	id   string
	role string

	llm    llm.Client
	store  *store.Store
	broker *events.Broker
	log    *zap.Logger

	mu          sync.RWMutex
	status      Status
	currentTask string
	updatedAt   time.Time

	confidenceThreshold float64
	maxAttempts         int
}

func newBase(id, role string, client llm.Client, st *store.Store, broker *events.Broker) *Base {
	return &Base{
		id:                  id,
		role:                role,
		llm:                 client,
		store:               st,
		broker:              broker,
		log:                 logging.L().Named(id),
		status:              StatusIdle,
		currentTask:         "Ready for instructions",
		updatedAt:           time.Now().UTC(),
		confidenceThreshold: 0.7,
		maxAttempts:         3,
	}
}

// ID returns the agent identifier.
func (b *Base) ID() string { return b.id }

// Role returns the human-readable role name.
func (b *Base) Role() string { return b.role }

// Paused reports whether the agent has been paused by a user.
func (b *Base) Paused() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status == StatusPaused
}

// View returns a snapshot of the agent's state.
func (b *Base) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return View{
		ID:          b.id,
		Role:        b.role,
		Status:      string(b.status),
		CurrentTask: b.currentTask,
		Timestamp:   b.updatedAt,
	}
}

// SetStatus updates the agent state and publishes an agent_update event.
func (b *Base) SetStatus(status Status, task string) {
	b.mu.Lock()
	b.status = status
	b.currentTask = task
	b.updatedAt = time.Now().UTC()
	view := View{
		ID:          b.id,
		Role:        b.role,
		Status:      string(b.status),
		CurrentTask: b.currentTask,
		Timestamp:   b.updatedAt,
	}
	b.mu.Unlock()

	b.log.Info("status change", zap.String("status", string(status)), zap.String("task", task))
	if b.broker != nil {
		b.broker.Publish(events.Event{
			Type:    events.TypeAgentUpdate,
			Payload: view,
		})
	}
}

// sendMessage enqueues a handoff to another agent and publishes a log event.
func (b *Base) sendMessage(projectID, toAgent, messageType string, content map[string]interface{}, confidence *float64) (*models.Message, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message content: %w", err)
	}

	msg, err := b.store.AddMessage(projectID, b.id, toAgent, messageType, string(raw), confidence)
	if err != nil {
		return nil, err
	}

	b.log.Info("message sent",
		zap.String("message_id", msg.ID),
		zap.String("to", toAgent),
		zap.String("type", messageType))

	if b.broker != nil {
		b.broker.Publish(events.Event{
			Type:      events.TypeLogMessage,
			ProjectID: projectID,
			Payload: map[string]interface{}{
				"id":        msg.ID,
				"text":      fmt.Sprintf("%s → %s: %s", b.id, toAgent, messageType),
				"type":      "handoff",
				"timestamp": msg.Timestamp,
			},
		})
	}
	return msg, nil
}

// escalate records a pending human action and publishes a new_task event.
func (b *Base) escalate(projectID, issue string, options []string) (*models.Action, error) {
	rawOpts, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}

	action, err := b.store.CreateAction(
		projectID,
		fmt.Sprintf("%s needs decision", b.id),
		issue,
		models.PriorityHigh,
		string(rawOpts),
	)
	if err != nil {
		return nil, err
	}

	b.log.Warn("escalated to human", zap.String("action_id", action.ID), zap.String("issue", issue))

	if b.broker != nil {
		b.broker.Publish(events.Event{
			Type:      events.TypeNewTask,
			ProjectID: projectID,
			Payload: map[string]interface{}{
				"id":          action.ID,
				"project_id":  action.ProjectID,
				"title":       action.Title,
				"description": action.Description,
				"priority":    action.Priority,
				"options":     options,
				"status":      action.Status,
				"timestamp":   action.CreatedAt,
			},
		})
	}
	return action, nil
}

// generateJSON runs the LLM and parses its reply as a JSON object.
func (b *Base) generateJSON(ctx context.Context, prompt, systemPrompt string, temperature float32) (map[string]interface{}, int, error) {
	resp, err := b.llm.Generate(ctx, &llm.Request{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Temperature:  temperature,
	})
	if err != nil {
		return nil, 0, err
	}

	obj, err := llm.ParseJSONObject(resp.Content)
	if err != nil {
		return nil, resp.TokensUsed, fmt.Errorf("invalid JSON from model: %w", err)
	}
	return obj, resp.TokensUsed, nil
}

// confidenceFrom reads the model's self-reported confidence, defaulting to
// 0.8 when absent.
func confidenceFrom(output map[string]interface{}) float64 {
	if v, ok := output["confidence"].(float64); ok {
		return v
	}
	return 0.8
}
