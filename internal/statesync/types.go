// Package statesync keeps a client-side mirror of the server's dashboard
// state. It seeds each resource with a REST fetch, then folds server-sent
// events into the mirror so consumers always see a coherent snapshot without
// polling.
package statesync

import (
	"encoding/json"
	"time"
)

// Resource names the independently synced collections.
type Resource string

const (
	ResourceAgents   Resource = "agents"
	ResourceTasks    Resource = "tasks"
	ResourceMessages Resource = "messages"
	ResourceLogs     Resource = "logs"
)

// Resources lists every synced resource in a stable order.
var Resources = []Resource{ResourceAgents, ResourceTasks, ResourceMessages, ResourceLogs}

// Agent is one agent's dashboard row.
type Agent struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CurrentTask string    `json:"current_task"`
	Timestamp   time.Time `json:"timestamp"`
}

// Task is a pending human action item.
type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Options     []string  `json:"options"`
	Timestamp   time.Time `json:"timestamp"`
}

// Message is one inter-agent message.
type Message struct {
	ID          string                 `json:"id"`
	ProjectID   string                 `json:"project_id"`
	FromAgent   string                 `json:"from_agent"`
	ToAgent     string                 `json:"to_agent"`
	MessageType string                 `json:"message_type"`
	Content     map[string]interface{} `json:"content"`
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
}

// LogEntry is one activity log line.
type LogEntry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is one frame off the SSE stream. Payload stays raw until the apply
// loop decodes it for the matching resource.
type Event struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"project_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ResourceStatus tracks one resource's sync health. Loading flips on during
// a fetch; Err holds the last fetch failure, cleared on success. A failed
// resource never clobbers the others.
type ResourceStatus struct {
	Loading   bool
	Err       error
	FetchedAt time.Time
}

// Snapshot is a point-in-time copy of the mirrored state. Slices are owned
// by the caller.
type Snapshot struct {
	Agents    []Agent
	Tasks     []Task
	Messages  []Message
	Logs      []LogEntry
	Status    map[Resource]ResourceStatus
	Connected bool
}
