package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"botarmy/internal/agents"
	"botarmy/internal/events"
	"botarmy/internal/models"
)

// ChatEntry is one line in the chat panel. Field names match what the
// dashboard renders.
type ChatEntry struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	FromAgent       string    `json:"fromAgent"`
	TargetAgent     string    `json:"targetAgent,omitempty"`
	MentionedAgents []string  `json:"mentionedAgents,omitempty"`
}

// PermissionRequest is a pending "may I proceed" question from an agent.
type PermissionRequest struct {
	AgentID string `json:"agent_id"`
	Action  string `json:"action"`
}

// ChatMessageRequest is the body for POST /api/chat/send.
type ChatMessageRequest struct {
	Content         string   `json:"content" binding:"required"`
	MessageType     string   `json:"message_type" binding:"required"`
	TargetAgent     string   `json:"target_agent"`
	MentionedAgents []string `json:"mentioned_agents"`
	ProjectID       string   `json:"project_id"`
}

// AgentActionRequest is the body for POST /api/agents/action.
type AgentActionRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Action  string `json:"action" binding:"required"`
}

// SendChatMessage routes a chat message, persists it, and dispatches
// @mentions to the target agent.
func (h *Handler) SendChatMessage(c *gin.Context) {
	var req ChatMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content and message_type are required")
		return
	}
	if req.ProjectID == "" {
		req.ProjectID = h.DefaultProjectID
	}

	userEntry := ChatEntry{
		ID:              uuid.NewString(),
		Type:            req.MessageType,
		Content:         req.Content,
		Timestamp:       time.Now().UTC(),
		FromAgent:       "human",
		TargetAgent:     req.TargetAgent,
		MentionedAgents: req.MentionedAgents,
	}
	h.appendChat(userEntry, req.ProjectID)

	toAgent := req.TargetAgent
	if toAgent == "" {
		toAgent = "system"
	}
	content, _ := json.Marshal(map[string]interface{}{
		"text":     req.Content,
		"mentions": req.MentionedAgents,
	})
	if _, err := h.Store.RecordChatMessage(req.ProjectID, "human", toAgent, req.MessageType, string(content)); err != nil {
		h.Log.Error("failed to persist chat message", zap.Error(err))
		internalError(c, err)
		return
	}

	agent, ok := h.Registry.Get(req.TargetAgent)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "delivered", "message_id": userEntry.ID})
		return
	}

	if agent.Paused() {
		h.appendChat(ChatEntry{
			ID:          uuid.NewString(),
			Type:        models.MessageTypeAgentResponse,
			Content:     "Agent @" + req.TargetAgent + " is currently paused. Use the resume button to continue.",
			Timestamp:   time.Now().UTC(),
			FromAgent:   req.TargetAgent,
			TargetAgent: "human",
		}, req.ProjectID)
		c.JSON(http.StatusOK, gin.H{
			"status":       "delivered",
			"agent_paused": true,
			"message_id":   userEntry.ID,
		})
		return
	}

	reply, requiresPermission := agentReply(req.TargetAgent, req.Content)
	h.appendChat(ChatEntry{
		ID:          uuid.NewString(),
		Type:        models.MessageTypeAgentResponse,
		Content:     reply,
		Timestamp:   time.Now().UTC(),
		FromAgent:   req.TargetAgent,
		TargetAgent: "human",
	}, req.ProjectID)

	resp := gin.H{"status": "delivered", "message_id": userEntry.ID}
	if requiresPermission {
		requestID := uuid.NewString()
		h.chatMu.Lock()
		h.pendingPermissions[requestID] = PermissionRequest{
			AgentID: req.TargetAgent,
			Action:  req.Content,
		}
		h.chatMu.Unlock()
		resp["permission_request_id"] = requestID
	}

	// An analyst mention asking for analysis kicks off the pipeline.
	if req.TargetAgent == "analyst" && strings.Contains(strings.ToLower(req.Content), "analyze") {
		h.startAnalysis(c.Request.Context(), req.ProjectID, req.Content, agent)
	}

	c.JSON(http.StatusOK, resp)
}

// startAnalysis enqueues a start_analysis message and drains the pipeline in
// the background.
func (h *Handler) startAnalysis(_ context.Context, projectID, instruction string, agent agents.Agent) {
	requirements := instruction
	if project, err := h.Store.GetProject(projectID); err == nil && project.Requirements != "" {
		requirements = project.Requirements + "\n\nUser instruction: " + instruction
	}

	content, _ := json.Marshal(map[string]interface{}{"requirements": requirements})
	if _, err := h.Store.AddMessage(projectID, "human", agent.ID(), models.MessageTypeStartAnalysis, string(content), nil); err != nil {
		h.Log.Error("failed to enqueue analysis", zap.Error(err))
		return
	}

	go func() {
		// Detached from the request: the drain outlives the HTTP call.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := h.Runner.Drain(ctx); err != nil {
			h.Log.Error("pipeline drain failed", zap.Error(err))
		}
	}()
}

// GetChatHistory returns the chat panel contents.
func (h *Handler) GetChatHistory(c *gin.Context) {
	h.chatMu.Lock()
	out := make([]ChatEntry, len(h.chatHistory))
	copy(out, h.chatHistory)
	h.chatMu.Unlock()

	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// AgentAction pauses, resumes, or stops an agent.
func (h *Handler) AgentAction(c *gin.Context) {
	var req AgentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "agent_id and action are required")
		return
	}

	message, err := h.Registry.Apply(req.AgentID, req.Action)
	if err != nil {
		if _, ok := h.Registry.Get(req.AgentID); !ok {
			notFound(c, "Agent not found")
			return
		}
		badRequest(c, err.Error())
		return
	}

	h.appendChat(ChatEntry{
		ID:          uuid.NewString(),
		Type:        models.MessageTypeSystem,
		Content:     message,
		Timestamp:   time.Now().UTC(),
		FromAgent:   "system",
		TargetAgent: "human",
	}, "")

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": message})
}

// RespondToPermission answers a pending agent permission request.
func (h *Handler) RespondToPermission(c *gin.Context) {
	requestID := c.Query("request_id")
	response := c.Query("response")
	if requestID == "" || response == "" {
		badRequest(c, "request_id and response are required")
		return
	}

	h.chatMu.Lock()
	perm, ok := h.pendingPermissions[requestID]
	if ok {
		delete(h.pendingPermissions, requestID)
	}
	h.chatMu.Unlock()

	if !ok {
		notFound(c, "Permission request not found")
		return
	}

	h.appendChat(ChatEntry{
		ID:          uuid.NewString(),
		Type:        models.MessageTypeSystem,
		Content:     "Permission " + strings.ToLower(response) + " for " + perm.AgentID + " request: " + perm.Action,
		Timestamp:   time.Now().UTC(),
		FromAgent:   "system",
		TargetAgent: "human",
	}, "")

	c.JSON(http.StatusOK, gin.H{"status": "success", "response": response})
}

// appendChat records a chat entry and publishes it on the push channel.
func (h *Handler) appendChat(entry ChatEntry, projectID string) {
	h.chatMu.Lock()
	h.chatHistory = append(h.chatHistory, entry)
	h.chatMu.Unlock()

	h.Broker.Publish(events.Event{
		Type:      events.TypeChatMessage,
		ProjectID: projectID,
		Payload:   entry,
	})
}

// agentReply picks the canned conversational reply for an agent mention.
// Keyword replies also request permission to proceed.
func agentReply(agentID, userMessage string) (string, bool) {
	type reply struct {
		keyword string
		text    string
	}
	keyed := map[string]reply{
		"analyst":   {"analyze", "I'll analyze the requirements. May I proceed to review the project scope and create a detailed analysis report?"},
		"architect": {"design", "I'll create the system architecture. Should I start with the high-level design and component breakdown?"},
		"developer": {"implement", "I'm ready to start coding. Should I begin with the core functionality or would you like me to focus on a specific module?"},
		"tester":    {"test", "I'll create comprehensive tests. Should I start with unit tests or would you prefer integration testing first?"},
	}
	defaults := map[string]string{
		"analyst":   "I'm ready to analyze requirements, user stories, and project scope. What would you like me to examine?",
		"architect": "I can help with system design, architecture patterns, and technical specifications. What do you need?",
		"developer": "I can write code, implement features, and handle development tasks. What should I work on?",
		"tester":    "I can create test cases, run quality checks, and validate functionality. How can I help?",
	}

	if r, ok := keyed[agentID]; ok && strings.Contains(strings.ToLower(userMessage), r.keyword) {
		return r.text, true
	}
	if d, ok := defaults[agentID]; ok {
		return d, false
	}
	return "Agent " + agentID + " received your message.", false
}
