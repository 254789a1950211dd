package statesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawPayload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestApplyAgentUpdateIsIdempotent(t *testing.T) {
	s := NewStore(NewClient("http://unused"))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	evt := Event{
		Type:      "agent_update",
		Payload:   rawPayload(t, Agent{ID: "analyst", Role: "Analyst", Status: "working", Timestamp: ts}),
		Timestamp: ts,
	}

	s.applyEvent(context.Background(), evt)
	s.applyEvent(context.Background(), evt)

	snap := s.Snapshot()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "working", snap.Agents[0].Status)
}

func TestApplyStaleUpdateLosesEitherOrder(t *testing.T) {
	older := Event{
		Type: "agent_update",
		Payload: rawPayload(t, Agent{
			ID: "analyst", Status: "thinking",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}),
	}
	newer := Event{
		Type: "agent_update",
		Payload: rawPayload(t, Agent{
			ID: "analyst", Status: "idle",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		}),
	}

	tests := []struct {
		name  string
		first Event
		then  Event
	}{
		{name: "in order", first: older, then: newer},
		{name: "out of order", first: newer, then: older},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(NewClient("http://unused"))
			s.applyEvent(context.Background(), tt.first)
			s.applyEvent(context.Background(), tt.then)

			snap := s.Snapshot()
			require.Len(t, snap.Agents, 1)
			assert.Equal(t, "idle", snap.Agents[0].Status)
		})
	}
}

func TestApplyNewEntityAppends(t *testing.T) {
	s := NewStore(NewClient("http://unused"))

	s.applyEvent(context.Background(), Event{
		Type:      "new_task",
		Payload:   rawPayload(t, Task{ID: "act_1", Title: "Review plan", Priority: "high"}),
		Timestamp: time.Now().UTC(),
	})
	s.applyEvent(context.Background(), Event{
		Type:      "new_task",
		Payload:   rawPayload(t, Task{ID: "act_2", Title: "Approve release", Priority: "medium"}),
		Timestamp: time.Now().UTC(),
	})

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "act_1", snap.Tasks[0].ID)
	assert.Equal(t, "act_2", snap.Tasks[1].ID)
}

func TestApplyMalformedPayloadIsIgnored(t *testing.T) {
	s := NewStore(NewClient("http://unused"))

	s.applyEvent(context.Background(), Event{Type: "agent_update", Payload: json.RawMessage(`"not an object"`)})
	s.applyEvent(context.Background(), Event{Type: "new_task", Payload: json.RawMessage(`{invalid`)})
	s.applyEvent(context.Background(), Event{Type: "something_new", Payload: json.RawMessage(`{}`)})

	snap := s.Snapshot()
	assert.Empty(t, snap.Agents)
	assert.Empty(t, snap.Tasks)
}

func TestApplyEventStampFallsBackToEnvelope(t *testing.T) {
	s := NewStore(NewClient("http://unused"))

	envelope := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.applyEvent(context.Background(), Event{
		Type:      "log_message",
		Payload:   json.RawMessage(`{"id": "log_1", "text": "analyst → architect: handoff", "type": "handoff"}`),
		Timestamp: envelope,
	})

	snap := s.Snapshot()
	require.Len(t, snap.Logs, 1)
	assert.Equal(t, envelope, snap.Logs[0].Timestamp)
}

func TestFetchDoesNotClobberNewerEvent(t *testing.T) {
	stale := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fresh := stale.Add(time.Second)

	// The server answers with a snapshot generated before the event below.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"agents": [
			{"id": "analyst", "status": "idle", "timestamp": %q},
			{"id": "tester", "status": "idle", "timestamp": %q}
		]}`, stale.Format(time.RFC3339Nano), stale.Format(time.RFC3339Nano))
	}))
	defer srv.Close()

	s := NewStore(NewClient(srv.URL))

	// A newer stream event lands while the fetch is in flight.
	s.applyEvent(context.Background(), Event{
		Type:      "agent_update",
		Payload:   rawPayload(t, Agent{ID: "analyst", Status: "working", Timestamp: fresh}),
		Timestamp: fresh,
	})

	s.fetchResource(context.Background(), ResourceAgents)

	// Drain the apply queue by hand: the loading mark, then the install.
	for i := 0; i < 2; i++ {
		select {
		case fn := <-s.applyCh:
			fn()
		case <-time.After(5 * time.Second):
			t.Fatal("fetch result never arrived")
		}
	}

	snap := s.Snapshot()
	require.Len(t, snap.Agents, 2, "fetch still seeds entities the events missed")
	for _, a := range snap.Agents {
		if a.ID == "analyst" {
			assert.Equal(t, "working", a.Status, "older snapshot must lose to the newer event")
			assert.Equal(t, fresh, a.Timestamp)
		}
	}
	assert.NoError(t, snap.Status[ResourceAgents].Err)
	assert.False(t, snap.Status[ResourceAgents].FetchedAt.IsZero())
}

// syncServer is a fake backend for end-to-end store tests. It serves the
// four collection endpoints and an SSE stream that disconnects on request.
type syncServer struct {
	mu         sync.Mutex
	fetchCount map[string]int
	streams    int
	tasksFail  bool

	// holdStream blocks the Nth and later stream connections open.
	holdAfter int
	release   chan struct{}
}

func newSyncServer() *syncServer {
	return &syncServer{
		fetchCount: make(map[string]int),
		holdAfter:  2,
		release:    make(chan struct{}),
	}
}

func (f *syncServer) counts(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount[key]
}

func (f *syncServer) handler() http.Handler {
	mux := http.NewServeMux()

	collection := func(key string, body string, fail func() bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.fetchCount[key]++
			f.mu.Unlock()
			if fail != nil && fail() {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, body)
		}
	}

	mux.HandleFunc("/api/agents", collection("agents",
		`{"agents": [{"id": "analyst", "role": "Analyst", "status": "idle"}]}`, nil))
	mux.HandleFunc("/api/tasks", collection("tasks",
		`{"tasks": []}`, func() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.tasksFail }))
	mux.HandleFunc("/api/messages", collection("messages",
		`{"messages": [{"id": "msg_1", "from_agent": "analyst"}]}`, nil))
	mux.HandleFunc("/api/logs", collection("logs", `{"logs": []}`, nil))

	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.streams++
		n := f.streams
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprintf(w, "event: connected\ndata: {\"type\": \"connected\", \"timestamp\": %q}\n\n",
			time.Now().UTC().Format(time.RFC3339Nano))
		flusher.Flush()

		if n >= f.holdAfter {
			select {
			case <-f.release:
			case <-r.Context().Done():
			}
			return
		}
		// First connection: drop immediately to force a reconnect.
	})

	return mux
}

func TestRunReconnectRefetchesOncePerResource(t *testing.T) {
	fake := newSyncServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	defer close(fake.release)

	s := NewStore(NewClient(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	// Wait for the second stream connection (the reconnect) and the
	// refetch it triggers.
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.streams >= 2
	}, 10*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return fake.counts("agents") == 2
	}, 10*time.Second, 20*time.Millisecond)

	// Settle, then confirm exactly one refetch happened per resource:
	// one initial fetch plus one for the single reconnect.
	time.Sleep(200 * time.Millisecond)
	for _, key := range []string{"agents", "tasks", "messages", "logs"} {
		assert.Equal(t, 2, fake.counts(key), "resource %s", key)
	}

	snap := s.Snapshot()
	assert.True(t, snap.Connected)
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, "analyst", snap.Agents[0].ID)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestRunPartialFetchFailureIsIsolated(t *testing.T) {
	fake := newSyncServer()
	fake.tasksFail = true
	fake.holdAfter = 1
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	defer close(fake.release)

	s := NewStore(NewClient(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return len(snap.Agents) == 1 && snap.Status[ResourceTasks].Err != nil
	}, 10*time.Second, 20*time.Millisecond)

	snap := s.Snapshot()
	assert.NoError(t, snap.Status[ResourceAgents].Err)
	assert.Error(t, snap.Status[ResourceTasks].Err)
	assert.Len(t, snap.Messages, 1, "messages fetch must survive the tasks failure")

	// A manual retry against a recovered endpoint clears the error.
	fake.mu.Lock()
	fake.tasksFail = false
	fake.mu.Unlock()
	s.Retry(ctx, ResourceTasks)

	require.Eventually(t, func() bool {
		return s.Snapshot().Status[ResourceTasks].Err == nil
	}, 10*time.Second, 20*time.Millisecond)
}
