package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botarmy/internal/models"
	"botarmy/internal/store"
)

// ProjectCreateRequest is the body for POST /api/projects.
type ProjectCreateRequest struct {
	Name         string `json:"name" binding:"required"`
	Requirements string `json:"requirements" binding:"required"`
}

// ActionResponseRequest is the body for POST /api/actions/respond.
type ActionResponseRequest struct {
	ActionID string `json:"action_id" binding:"required"`
	Response string `json:"response" binding:"required"`
}

// CreateProject creates a new project. Agents only act on chat commands, so
// no pipeline work is started here.
func (h *Handler) CreateProject(c *gin.Context) {
	var req ProjectCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name and requirements are required")
		return
	}

	project, err := h.Store.CreateProject(req.Name, req.Requirements)
	if err != nil {
		h.Log.Error("failed to create project", zap.Error(err))
		internalError(c, err)
		return
	}

	h.Log.Info("project created", zap.String("project_id", project.ID))
	c.JSON(http.StatusCreated, gin.H{
		"project_id": project.ID,
		"status":     "created",
		"message":    "Use chat with @agent mentions to interact",
	})
}

// GetProject returns project details.
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.Store.GetProject(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, "Project not found")
			return
		}
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           project.ID,
		"name":         project.Name,
		"requirements": project.Requirements,
		"spec":         project.DecodeSpec(),
		"status":       project.Status,
		"version":      project.Version,
		"created_at":   project.CreatedAt,
		"updated_at":   project.UpdatedAt,
	})
}

// GetProjectMessages returns a project's messages, newest first.
func (h *Handler) GetProjectMessages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := h.Store.ProjectMessages(c.Param("id"), limit)
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messageViews(msgs)})
}

// GetProjectActions returns a project's pending actions, newest first.
func (h *Handler) GetProjectActions(c *gin.Context) {
	actions, err := h.Store.PendingActions(c.Param("id"))
	if err != nil {
		internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"actions": actionViews(actions, false)})
}

// RespondToAction resolves a pending action with the human's response.
func (h *Handler) RespondToAction(c *gin.Context) {
	var req ActionResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "action_id and response are required")
		return
	}

	if err := h.Store.ResolveAction(req.ActionID, req.Response); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			notFound(c, "Action not found")
			return
		}
		internalError(c, err)
		return
	}

	h.Log.Info("action resolved",
		zap.String("action_id", req.ActionID),
		zap.String("response", req.Response))
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

func messageViews(msgs []models.Message) []gin.H {
	out := make([]gin.H, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		out = append(out, gin.H{
			"id":           m.ID,
			"project_id":   m.ProjectID,
			"from_agent":   m.FromAgent,
			"to_agent":     m.ToAgent,
			"message_type": m.MessageType,
			"content":      m.DecodeContent(),
			"status":       m.Status,
			"confidence":   m.Confidence,
			"timestamp":    m.Timestamp,
		})
	}
	return out
}

func actionViews(actions []models.Action, defaultOptions bool) []gin.H {
	out := make([]gin.H, 0, len(actions))
	for i := range actions {
		a := &actions[i]
		options := a.DecodeOptions()
		if len(options) == 0 && defaultOptions {
			options = []string{"Approve", "Reject", "Modify"}
		}
		out = append(out, gin.H{
			"id":          a.ID,
			"project_id":  a.ProjectID,
			"title":       a.Title,
			"description": a.Description,
			"priority":    a.Priority,
			"status":      a.Status,
			"options":     options,
			"created_at":  a.CreatedAt,
			"timestamp":   a.CreatedAt,
		})
	}
	return out
}
