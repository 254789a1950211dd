package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botarmy/internal/events"
)

const (
	heartbeatInterval = 5 * time.Second
	pollInterval      = 2 * time.Second
)

// StreamGlobalEvents is the dashboard's main SSE feed: every broker event
// across all projects, plus a periodic agent snapshot heartbeat.
func (h *Handler) StreamGlobalEvents(c *gin.Context) {
	sub := h.Broker.Subscribe("")
	defer h.Broker.Unsubscribe(sub)

	setSSEHeaders(c)
	c.SSEvent(events.TypeConnected, events.Event{
		Type:      events.TypeConnected,
		Payload:   gin.H{"message": "Connected to BotArmy event stream"},
		Timestamp: time.Now().UTC(),
	})
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	h.Log.Debug("sse client connected", zap.String("remote", c.ClientIP()))

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt)
			return true

		case <-heartbeat.C:
			// Keep intermediaries from timing out the connection and let
			// reconnecting clients converge without a full refetch.
			for _, view := range h.Registry.Views() {
				c.SSEvent(events.TypeAgentUpdate, events.Event{
					Type:      events.TypeAgentUpdate,
					Payload:   view,
					Timestamp: view.Timestamp,
				})
			}
			return true

		case <-c.Request.Context().Done():
			return false
		}
	})
}

// StreamProjectEvents is the per-project SSE feed. It combines broker pushes
// scoped to the project with a low-frequency poll of the database so changes
// made outside this process still surface.
func (h *Handler) StreamProjectEvents(c *gin.Context) {
	projectID := c.Param("project_id")

	sub := h.Broker.Subscribe(projectID)
	defer h.Broker.Unsubscribe(sub)

	setSSEHeaders(c)
	c.SSEvent(events.TypeConnected, events.Event{
		Type:      events.TypeConnected,
		ProjectID: projectID,
		Payload:   gin.H{"project_id": projectID},
		Timestamp: time.Now().UTC(),
	})
	c.Writer.Flush()

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	lastCheck := time.Now().UTC()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(evt.Type, evt)
			return true

		case <-poll.C:
			now := time.Now().UTC()

			msgs, err := h.Store.MessagesSince(projectID, lastCheck)
			if err != nil {
				h.Log.Warn("project stream poll failed", zap.Error(err))
				return true
			}
			for i := range msgs {
				m := &msgs[i]
				c.SSEvent("message", events.Event{
					Type:      "message",
					ProjectID: projectID,
					Payload: gin.H{
						"id":           m.ID,
						"from_agent":   m.FromAgent,
						"to_agent":     m.ToAgent,
						"message_type": m.MessageType,
						"content":      m.DecodeContent(),
						"status":       m.Status,
					},
					Timestamp: m.Timestamp,
				})
			}

			actions, err := h.Store.ActionsSince(projectID, lastCheck)
			if err != nil {
				h.Log.Warn("project stream poll failed", zap.Error(err))
				return true
			}
			for i := range actions {
				a := &actions[i]
				c.SSEvent("action", events.Event{
					Type:      "action",
					ProjectID: projectID,
					Payload: gin.H{
						"id":          a.ID,
						"title":       a.Title,
						"description": a.Description,
						"priority":    a.Priority,
						"options":     a.DecodeOptions(),
					},
					Timestamp: a.CreatedAt,
				})
			}

			lastCheck = now
			return true

		case <-c.Request.Context().Done():
			return false
		}
	})
}

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}
