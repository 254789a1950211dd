package agents

import (
	"fmt"
	"sync"

	"botarmy/internal/events"
	"botarmy/internal/llm"
	"botarmy/internal/store"
)

// Registry holds the agents in pipeline order and applies user actions.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]Agent
}

// NewRegistry creates a registry over the given agents, preserving order.
func NewRegistry(list ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(list))}
	for _, a := range list {
		r.order = append(r.order, a.ID())
		r.agents[a.ID()] = a
	}
	return r
}

// DefaultRegistry wires up the standard four-agent pipeline.
func DefaultRegistry(client llm.Client, st *store.Store, broker *events.Broker) *Registry {
	return NewRegistry(
		NewAnalyst(client, st, broker),
		NewArchitect(client, st, broker),
		NewDeveloper(client, st, broker),
		NewTester(client, st, broker),
	)
}

// Get returns the agent with the given id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// All returns the agents in pipeline order.
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Views returns the current state of every agent in pipeline order.
func (r *Registry) Views() []View {
	all := r.All()
	views := make([]View, 0, len(all))
	for _, a := range all {
		views = append(views, a.View())
	}
	return views
}

// Apply performs a user control action (pause, resume, stop) on an agent and
// returns the user-facing confirmation message.
func (r *Registry) Apply(id, action string) (string, error) {
	agent, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("agents: unknown agent %q", id)
	}

	switch action {
	case "pause":
		agent.SetStatus(StatusPaused, "Paused by user")
		return fmt.Sprintf("Agent @%s has been paused", id), nil
	case "resume":
		agent.SetStatus(StatusIdle, "Ready for instructions")
		return fmt.Sprintf("Agent @%s has been resumed", id), nil
	case "stop":
		agent.SetStatus(StatusIdle, "")
		return fmt.Sprintf("Agent @%s has been stopped", id), nil
	default:
		return "", fmt.Errorf("agents: invalid action %q", action)
	}
}
