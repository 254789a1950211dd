package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botarmy/internal/models"
	"botarmy/internal/store"
)

// GetAgents returns every agent's status with a queue summary. This is the
// global endpoint the dashboard polls on mount.
func (h *Handler) GetAgents(c *gin.Context) {
	views := h.Registry.Views()
	out := make([]gin.H, 0, len(views))

	for _, v := range views {
		counts, err := h.Store.AgentQueueCounts(v.ID)
		if err != nil {
			h.Log.Warn("failed to count queue", zap.String("agent", v.ID), zap.Error(err))
			counts = &store.QueueCounts{}
		}
		out = append(out, gin.H{
			"id":           v.ID,
			"role":         v.Role,
			"status":       v.Status,
			"current_task": v.CurrentTask,
			"timestamp":    v.Timestamp,
			"queue":        counts,
			"expanded":     false,
			"chat":         []gin.H{},
			"handoff":      nil,
		})
	}

	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// GetTasks returns pending actions across all projects, priority-ordered.
func (h *Handler) GetTasks(c *gin.Context) {
	actions, err := h.Store.GlobalPendingActions(50)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": actionViews(actions, true)})
}

// GetArtifacts returns artifact buckets grouped by lifecycle phase. Buckets
// fill up as agents produce artifacts; empty buckets still render.
func (h *Handler) GetArtifacts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"artifacts": gin.H{
			"requirements": []gin.H{},
			"design":       []gin.H{},
			"development":  []gin.H{},
			"testing":      []gin.H{},
			"deployment":   []gin.H{},
			"maintenance":  []gin.H{},
		},
	})
}

// GetMessages returns the most recent messages across all projects.
func (h *Handler) GetMessages(c *gin.Context) {
	msgs, err := h.Store.RecentMessages(100)
	if err != nil {
		internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messageViews(msgs)})
}

// GetLogs renders recent messages as dashboard log lines.
func (h *Handler) GetLogs(c *gin.Context) {
	msgs, err := h.Store.RecentMessages(100)
	if err != nil {
		internalError(c, err)
		return
	}

	logs := make([]gin.H, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		logs = append(logs, gin.H{
			"id":        m.ID,
			"text":      logLine(m),
			"type":      logType(m),
			"timestamp": m.Timestamp,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

func logLine(m *models.Message) string {
	text, _ := m.DecodeContent()["text"].(string)
	if text == "" {
		text = m.MessageType
	}
	return fmt.Sprintf("%s → %s: %s", m.FromAgent, m.ToAgent, text)
}

func logType(m *models.Message) string {
	switch {
	case m.MessageType == models.MessageTypeError:
		return "error"
	case m.MessageType == models.MessageTypeHandoff || m.MessageType == models.MessageTypeEscalation:
		return "handoff"
	case m.Status == models.MessageStatusCompleted:
		return "success"
	default:
		return "info"
	}
}
