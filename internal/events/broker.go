// Package events implements the in-process broker behind the server's SSE
// streams. Mutations publish typed events; stream handlers subscribe with
// buffered channels. Delivery is best effort: a subscriber that cannot keep
// up is dropped rather than blocking the publisher.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"botarmy/internal/logging"
	"botarmy/internal/metrics"
)

// Event types pushed over the wire.
const (
	TypeConnected   = "connected"
	TypeAgentUpdate = "agent_update"
	TypeNewTask     = "new_task"
	TypeLogMessage  = "log_message"
	TypeChatMessage = "chat_message"
	TypeError       = "error"
)

// Event is one push-channel update. Timestamp is server-assigned and
// monotonic per broker.
type Event struct {
	Type      string      `json:"type"`
	ProjectID string      `json:"project_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Subscriber receives broker events on a buffered channel.
type Subscriber struct {
	projectID string
	ch        chan Event
}

// Events returns the subscriber's receive channel. It is closed when the
// subscriber is dropped or the broker shuts down.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Broker fans events out to subscribers.
type Broker struct {
	register   chan *Subscriber
	unregister chan *Subscriber
	publish    chan Event
	shutdown   chan struct{}

	mu   sync.RWMutex
	subs map[*Subscriber]bool

	stampMu   sync.Mutex
	lastStamp time.Time

	log *zap.Logger
}

// NewBroker creates an event broker. Call Run in a goroutine to start it.
func NewBroker() *Broker {
	return &Broker{
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		publish:    make(chan Event, 64),
		shutdown:   make(chan struct{}),
		subs:       make(map[*Subscriber]bool),
		log:        logging.L().Named("events"),
	}
}

// Run starts the broker's main loop.
func (b *Broker) Run() {
	for {
		select {
		case <-b.shutdown:
			b.mu.Lock()
			for sub := range b.subs {
				close(sub.ch)
			}
			b.subs = make(map[*Subscriber]bool)
			b.mu.Unlock()
			metrics.SSESubscribers.Set(0)
			b.log.Info("event broker shut down")
			return

		case sub := <-b.register:
			b.mu.Lock()
			b.subs[sub] = true
			n := len(b.subs)
			b.mu.Unlock()
			metrics.SSESubscribers.Set(float64(n))

		case sub := <-b.unregister:
			b.drop(sub)

		case evt := <-b.publish:
			b.broadcast(evt)
		}
	}
}

// Shutdown stops the broker and closes all subscriber channels.
func (b *Broker) Shutdown() {
	close(b.shutdown)
}

// Subscribe registers a subscriber. projectID scopes delivery to one
// project; the empty string receives everything.
func (b *Broker) Subscribe(projectID string) *Subscriber {
	sub := &Subscriber{
		projectID: projectID,
		ch:        make(chan Event, 64),
	}
	select {
	case b.register <- sub:
	case <-b.shutdown:
		close(sub.ch)
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	select {
	case b.unregister <- sub:
	case <-b.shutdown:
	}
}

// Publish stamps the event and queues it for delivery. Drops the event when
// the broker is shutting down.
func (b *Broker) Publish(evt Event) {
	evt.Timestamp = b.stamp()
	select {
	case b.publish <- evt:
	case <-b.shutdown:
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// stamp returns a server-assigned timestamp that never moves backwards.
func (b *Broker) stamp() time.Time {
	b.stampMu.Lock()
	defer b.stampMu.Unlock()

	now := time.Now().UTC()
	if !now.After(b.lastStamp) {
		now = b.lastStamp.Add(time.Microsecond)
	}
	b.lastStamp = now
	return now
}

func (b *Broker) broadcast(evt Event) {
	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		if sub.projectID == "" || evt.ProjectID == "" || sub.projectID == evt.ProjectID {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		default:
			// Subscriber is not draining; drop it instead of blocking.
			b.log.Warn("dropping slow subscriber", zap.String("project_id", sub.projectID))
			b.drop(sub)
		}
	}
}

func (b *Broker) drop(sub *Subscriber) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	n := len(b.subs)
	b.mu.Unlock()
	metrics.SSESubscribers.Set(float64(n))
}
