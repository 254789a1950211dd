// Package handlers implements the BotArmy REST and SSE API.
package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"botarmy/internal/agents"
	"botarmy/internal/events"
	"botarmy/internal/logging"
	"botarmy/internal/metrics"
	"botarmy/internal/store"
)

// Handler contains all the dependencies for API handlers.
type Handler struct {
	Store    *store.Store
	Registry *agents.Registry
	Runner   *agents.Runner
	Broker   *events.Broker
	Log      *zap.Logger

	// DefaultProjectID receives chat messages that name no project.
	DefaultProjectID string

	chatMu             sync.Mutex
	chatHistory        []ChatEntry
	pendingPermissions map[string]PermissionRequest
}

// NewHandler creates a new handler instance.
func NewHandler(st *store.Store, registry *agents.Registry, runner *agents.Runner, broker *events.Broker, defaultProjectID string) *Handler {
	return &Handler{
		Store:              st,
		Registry:           registry,
		Runner:             runner,
		Broker:             broker,
		Log:                logging.L().Named("api"),
		DefaultProjectID:   defaultProjectID,
		pendingPermissions: make(map[string]PermissionRequest),
	}
}

// StandardResponse is the common envelope for non-collection responses.
type StandardResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// RegisterRoutes attaches every endpoint to the router.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	{
		api.POST("/projects", h.CreateProject)
		api.GET("/projects/:id", h.GetProject)
		api.GET("/projects/:id/messages", h.GetProjectMessages)
		api.GET("/projects/:id/actions", h.GetProjectActions)
		api.POST("/actions/respond", h.RespondToAction)

		api.GET("/agents", h.GetAgents)
		api.GET("/tasks", h.GetTasks)
		api.GET("/artifacts", h.GetArtifacts)
		api.GET("/messages", h.GetMessages)
		api.GET("/logs", h.GetLogs)

		api.POST("/chat/send", h.SendChatMessage)
		api.GET("/chat/history", h.GetChatHistory)
		api.POST("/agents/action", h.AgentAction)
		api.POST("/permissions/respond", h.RespondToPermission)

		api.GET("/events", h.StreamGlobalEvents)
		api.GET("/stream/:project_id", h.StreamProjectEvents)
	}
}

// Health reports server and database health.
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if err := h.Store.Health(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		h.Log.Error("health check failed", zap.Error(err))
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, StandardResponse{
		Success: false,
		Error:   msg,
		Code:    "INVALID_REQUEST",
	})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, StandardResponse{
		Success: false,
		Error:   msg,
		Code:    "NOT_FOUND",
	})
}

func internalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, StandardResponse{
		Success: false,
		Error:   err.Error(),
		Code:    "INTERNAL_ERROR",
	})
}
