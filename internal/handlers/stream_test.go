package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botarmy/internal/events"
)

// closeNotifyRecorder adds the http.CloseNotifier method gin's c.Stream
// requires of the underlying ResponseWriter, which httptest.ResponseRecorder
// does not implement.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifyRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func TestStreamGlobalEventsHello(t *testing.T) {
	router, h, _ := newTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := newCloseNotifyRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, req)
	}()

	// Publish once the subscriber is registered, then close the request.
	require.Eventually(t, func() bool {
		return h.Broker.SubscriberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.Broker.Publish(events.Event{Type: events.TypeLogMessage, Payload: map[string]interface{}{
		"id":   "log_1",
		"text": "analyst → architect: handoff",
	}})

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler did not stop on cancel")
	}

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event:connected")
	assert.Contains(t, body, "Connected to BotArmy event stream")
	assert.Contains(t, body, "event:log_message")
	assert.Contains(t, body, "analyst")
}

func TestStreamProjectEventsScoped(t *testing.T) {
	router, h, _ := newTestRouter(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream/proj_49583", nil).WithContext(ctx)
	w := newCloseNotifyRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(w, req)
	}()

	require.Eventually(t, func() bool {
		return h.Broker.SubscriberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.Broker.Publish(events.Event{Type: events.TypeNewTask, ProjectID: "other_project"})
	h.Broker.Publish(events.Event{Type: events.TypeNewTask, ProjectID: "proj_49583", Payload: map[string]interface{}{
		"id":    "act_9",
		"title": "Decide something",
	}})

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream handler did not stop on cancel")
	}

	body := w.Body.String()
	assert.Contains(t, body, "event:connected")
	assert.Contains(t, body, "Decide something")
	assert.NotContains(t, body, "other_project")
}
