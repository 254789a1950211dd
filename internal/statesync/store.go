package statesync

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"botarmy/internal/logging"
)

const (
	backoffMin = 500 * time.Millisecond
	backoffMax = 30 * time.Second
)

// Store mirrors the server's dashboard state. All mutations funnel through
// the single goroutine inside Run, so merges are applied one at a time;
// Snapshot takes a read lock and never observes a half-applied update.
type Store struct {
	client *Client
	log    *zap.Logger

	mu        sync.RWMutex
	agents    []Agent
	tasks     []Task
	messages  []Message
	logs      []LogEntry
	status    map[Resource]ResourceStatus
	connected bool

	applyCh chan func()
	notify  chan struct{}

	// connects counts established streams; the first one skips the refetch
	// because the initial fetch already ran.
	connects int
}

// NewStore creates a sync store over the given API client.
func NewStore(client *Client) *Store {
	status := make(map[Resource]ResourceStatus, len(Resources))
	for _, r := range Resources {
		status[r] = ResourceStatus{}
	}
	return &Store{
		client:  client,
		log:     logging.L().Named("statesync"),
		status:  status,
		applyCh: make(chan func(), 64),
		notify:  make(chan struct{}, 1),
	}
}

// Notify returns a channel that receives a signal after state changes.
// Signals coalesce; consumers should re-snapshot on each one.
func (s *Store) Notify() <-chan struct{} {
	return s.notify
}

// Snapshot returns a copy of the current mirrored state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Agents:    append([]Agent(nil), s.agents...),
		Tasks:     append([]Task(nil), s.tasks...),
		Messages:  append([]Message(nil), s.messages...),
		Logs:      append([]LogEntry(nil), s.logs...),
		Status:    make(map[Resource]ResourceStatus, len(s.status)),
		Connected: s.connected,
	}
	for r, st := range s.status {
		snap.Status[r] = st
	}
	return snap
}

// Retry re-fetches a single resource, typically after its last fetch failed.
func (s *Store) Retry(ctx context.Context, resource Resource) {
	s.fetchResource(ctx, resource)
}

// Run drives the mirror: it seeds every resource with parallel fetches, then
// folds stream events into the state, reconnecting with backoff when the
// stream drops. Each reconnect triggers exactly one re-fetch per resource.
// Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) error {
	events := make(chan Event, 64)

	s.fetchAll(ctx)
	go s.streamLoop(ctx, events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.applyCh:
			fn()
			s.wake()
		case evt := <-events:
			s.applyEvent(ctx, evt)
			s.wake()
		}
	}
}

// streamLoop keeps one SSE connection alive, backing off between attempts.
func (s *Store) streamLoop(ctx context.Context, events chan<- Event) {
	backoff := backoffMin
	for {
		err := s.client.Stream(ctx, events)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("event stream dropped", zap.Error(err), zap.Duration("backoff", backoff))

		s.enqueue(func() {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
		})

		// Full jitter keeps reconnect storms from synchronizing.
		delay := time.Duration(rand.Int63n(int64(backoff))) + backoffMin/2
		if delay > backoffMax {
			delay = backoffMax
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

// fetchAll seeds every resource in parallel. Each fetch succeeds or fails on
// its own; a failing resource reports an error without touching the others.
func (s *Store) fetchAll(ctx context.Context) {
	for _, r := range Resources {
		s.fetchResource(ctx, r)
	}
}

func (s *Store) fetchResource(ctx context.Context, resource Resource) {
	s.enqueue(func() {
		s.mu.Lock()
		st := s.status[resource]
		st.Loading = true
		s.status[resource] = st
		s.mu.Unlock()
	})

	go func() {
		switch resource {
		case ResourceAgents:
			agents, err := s.client.FetchAgents(ctx)
			s.finishFetch(resource, err, func() {
				for _, a := range agents {
					s.agents = mergeAgent(s.agents, a)
				}
			})
		case ResourceTasks:
			tasks, err := s.client.FetchTasks(ctx)
			s.finishFetch(resource, err, func() {
				for _, task := range tasks {
					s.tasks = mergeTask(s.tasks, task)
				}
			})
		case ResourceMessages:
			msgs, err := s.client.FetchMessages(ctx)
			s.finishFetch(resource, err, func() {
				for _, m := range msgs {
					s.messages = mergeMessage(s.messages, m)
				}
			})
		case ResourceLogs:
			logs, err := s.client.FetchLogs(ctx)
			s.finishFetch(resource, err, func() {
				for _, l := range logs {
					s.logs = mergeLog(s.logs, l)
				}
			})
		}
	}()
}

// finishFetch records one fetch outcome. Fetched records install through the
// same greatest-timestamp-wins merge as stream events, so an event applied
// while the fetch was in flight is never clobbered by the older snapshot.
// On failure the previous collection stays as-is so a blip does not blank
// the dashboard.
func (s *Store) finishFetch(resource Resource, err error, install func()) {
	s.enqueue(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		st := s.status[resource]
		st.Loading = false
		st.Err = err
		if err == nil {
			st.FetchedAt = time.Now().UTC()
			install()
		} else {
			s.log.Warn("resource fetch failed",
				zap.String("resource", string(resource)), zap.Error(err))
		}
		s.status[resource] = st
	})
}

// enqueue hands a mutation to the apply goroutine. Falls back to running it
// inline if the queue is full so fetch results are never lost.
func (s *Store) enqueue(fn func()) {
	select {
	case s.applyCh <- fn:
	default:
		fn()
		s.wake()
	}
}

func (s *Store) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// applyEvent folds one stream event into the mirror. Merges are idempotent
// and commutative: replaying an event or receiving two updates out of order
// converges on the entity with the greatest server timestamp.
func (s *Store) applyEvent(ctx context.Context, evt Event) {
	switch evt.Type {
	case "connected":
		s.mu.Lock()
		s.connected = true
		s.connects++
		reconnect := s.connects > 1
		s.mu.Unlock()
		if reconnect {
			// Events missed while disconnected are gone; reconverge once.
			s.log.Info("stream reconnected, re-fetching state")
			s.fetchAll(ctx)
		}

	case "agent_update":
		var agent Agent
		if err := json.Unmarshal(evt.Payload, &agent); err != nil || agent.ID == "" {
			return
		}
		if agent.Timestamp.IsZero() {
			agent.Timestamp = evt.Timestamp
		}
		s.mu.Lock()
		s.agents = mergeAgent(s.agents, agent)
		s.mu.Unlock()

	case "new_task":
		var task Task
		if err := json.Unmarshal(evt.Payload, &task); err != nil || task.ID == "" {
			return
		}
		if task.Timestamp.IsZero() {
			task.Timestamp = evt.Timestamp
		}
		s.mu.Lock()
		s.tasks = mergeTask(s.tasks, task)
		s.mu.Unlock()

	case "message":
		var msg Message
		if err := json.Unmarshal(evt.Payload, &msg); err != nil || msg.ID == "" {
			return
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = evt.Timestamp
		}
		s.mu.Lock()
		s.messages = mergeMessage(s.messages, msg)
		s.mu.Unlock()

	case "log_message":
		var entry LogEntry
		if err := json.Unmarshal(evt.Payload, &entry); err != nil || entry.ID == "" {
			return
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = evt.Timestamp
		}
		s.mu.Lock()
		s.logs = mergeLog(s.logs, entry)
		s.mu.Unlock()

	case "chat_message":
		var chat struct {
			ID        string    `json:"id"`
			Type      string    `json:"type"`
			Content   string    `json:"content"`
			Timestamp time.Time `json:"timestamp"`
			FromAgent string    `json:"fromAgent"`
		}
		if err := json.Unmarshal(evt.Payload, &chat); err != nil || chat.ID == "" {
			return
		}
		entry := LogEntry{
			ID:        chat.ID,
			Text:      chat.FromAgent + ": " + chat.Content,
			Type:      "info",
			Timestamp: chat.Timestamp,
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = evt.Timestamp
		}
		s.mu.Lock()
		s.logs = mergeLog(s.logs, entry)
		s.mu.Unlock()

	default:
		// Unknown event types are skipped so new server-side types never
		// break older clients.
	}
}

// mergeAgent updates the entry with the same id, or appends a new one.
// Updates with a timestamp older than the stored entry lose.
func mergeAgent(list []Agent, incoming Agent) []Agent {
	for i := range list {
		if list[i].ID == incoming.ID {
			if !incoming.Timestamp.Before(list[i].Timestamp) {
				list[i] = incoming
			}
			return list
		}
	}
	return append(list, incoming)
}

func mergeTask(list []Task, incoming Task) []Task {
	for i := range list {
		if list[i].ID == incoming.ID {
			if !incoming.Timestamp.Before(list[i].Timestamp) {
				list[i] = incoming
			}
			return list
		}
	}
	return append(list, incoming)
}

func mergeMessage(list []Message, incoming Message) []Message {
	for i := range list {
		if list[i].ID == incoming.ID {
			if !incoming.Timestamp.Before(list[i].Timestamp) {
				list[i] = incoming
			}
			return list
		}
	}
	return append(list, incoming)
}

func mergeLog(list []LogEntry, incoming LogEntry) []LogEntry {
	for i := range list {
		if list[i].ID == incoming.ID {
			if !incoming.Timestamp.Before(list[i].Timestamp) {
				list[i] = incoming
			}
			return list
		}
	}
	return append(list, incoming)
}
