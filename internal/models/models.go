// Package models defines the persistent entities for the BotArmy workflow:
// projects, the agent message queue, and human intervention actions.
package models

import (
	"encoding/json"
	"time"
)

// Message status lifecycle for queue rows.
const (
	MessageStatusPending    = "pending"
	MessageStatusProcessing = "processing"
	MessageStatusCompleted  = "completed"
	MessageStatusFailed     = "failed"
	MessageStatusSent       = "sent"
)

// Message types exchanged between agents and humans.
const (
	MessageTypeStartAnalysis = "start_analysis"
	MessageTypeHandoff       = "handoff"
	MessageTypeEscalation    = "escalation"
	MessageTypeError         = "error"
	MessageTypeChat          = "chat"
	MessageTypeAgentResponse = "agent_response"
	MessageTypeSystem        = "system"
)

// Action status and priority values.
const (
	ActionStatusPending  = "pending"
	ActionStatusResolved = "resolved"

	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Project is a software-generation request tracked through the pipeline.
type Project struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"not null"`
	Requirements string    `json:"requirements" gorm:"not null"`
	Spec         string    `json:"spec"`
	Status       string    `json:"status" gorm:"default:'active'"`
	Version      int       `json:"version" gorm:"default:1"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DecodeSpec returns the stored spec as a JSON object, or an empty map when
// the column is empty or holds something that is not a JSON object.
func (p *Project) DecodeSpec() map[string]interface{} {
	return decodeObject(p.Spec)
}

// Message is one row in the SQLite-backed agent message queue. Content is a
// JSON object serialized to text; Timestamp is server-assigned and monotonic
// per project.
type Message struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	ProjectID     string    `json:"project_id" gorm:"index;not null"`
	FromAgent     string    `json:"from_agent" gorm:"not null"`
	ToAgent       string    `json:"to_agent"`
	MessageType   string    `json:"message_type" gorm:"not null"`
	Content       string    `json:"content" gorm:"not null"`
	Status        string    `json:"status" gorm:"default:'pending';index"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Timestamp     time.Time `json:"timestamp" gorm:"index"`
	ThreadID      string    `json:"thread_id"`
	AttemptNumber int       `json:"attempt_number" gorm:"default:1"`
}

// DecodeContent returns the message content as a JSON object. Malformed
// content degrades to {"text": raw} instead of failing.
func (m *Message) DecodeContent() map[string]interface{} {
	return decodeObject(m.Content)
}

// Action is a pending human decision raised by an agent escalation or seeded
// as a task for the dashboard.
type Action struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	ProjectID   string     `json:"project_id" gorm:"index;not null"`
	Title       string     `json:"title" gorm:"not null"`
	Description string     `json:"description" gorm:"not null"`
	Priority    string     `json:"priority" gorm:"not null"`
	Status      string     `json:"status" gorm:"default:'pending';index"`
	Options     string     `json:"options"`
	Response    string     `json:"response"`
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// DecodeOptions returns the stored options list, or nil when the column is
// empty or malformed.
func (a *Action) DecodeOptions() []string {
	if a.Options == "" {
		return nil
	}
	var opts []string
	if err := json.Unmarshal([]byte(a.Options), &opts); err != nil {
		return nil
	}
	return opts
}

func decodeObject(raw string) map[string]interface{} {
	if raw == "" {
		return map[string]interface{}{}
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return map[string]interface{}{"text": raw}
	}
	return obj
}
