package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inaim-finailabz/aurora/internal/inference"
	"github.com/inaim-finailabz/aurora/internal/session"
)

const (
	sessionListLimit      = 50
	sessionContextMsgs    = 50
	sessionContextMemory  = 10
	defaultMemoriesLimit  = 20
	sessionTitleMaxLength = 50
)

type createSessionRequest struct {
	Model string `json:"model"`
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(c *gin.Context) {
	var body createSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s.bus.Request("POST", "/api/sessions", "creating new session")

	sess, err := s.sessions.CreateSession(body.Model, body.Title)
	if err != nil {
		s.bus.Errorf("Failed to create session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to create session: %v", err)})
		return
	}

	s.setCurrentSession(sess.ID)

	title := sess.Title
	if title == "" {
		title = "Untitled"
	}
	_, _ = s.sessions.RecordMemory("session_created", "New session started: "+title, sess.ID, "")

	s.bus.Response(http.StatusCreated, "/api/sessions", "created session "+sess.ID)
	c.JSON(http.StatusCreated, gin.H{"session": sess})
}

func (s *Server) handleListSessions(c *gin.Context) {
	s.bus.Request("GET", "/api/sessions", "listing sessions")

	sessions, err := s.sessions.ListSessions(sessionListLimit)
	if err != nil {
		s.bus.Errorf("Failed to list sessions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to list sessions: %v", err)})
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}

	var current any
	if id := s.getCurrentSession(); id != "" {
		current = id
	}

	s.bus.Response(http.StatusOK, "/api/sessions", fmt.Sprintf("found %d sessions", len(sessions)))
	c.JSON(http.StatusOK, gin.H{
		"sessions":           sessions,
		"current_session_id": current,
	})
}

func (s *Server) handleGetSession(c *gin.Context) {
	id := c.Param("id")
	s.bus.Request("GET", "/api/sessions", "getting session "+id)

	ctx, err := s.sessions.GetSessionContext(id, sessionContextMsgs, sessionContextMemory)
	if errors.Is(err, session.ErrNotFound) {
		s.bus.Errorf("Session not found: %s", id)
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Session '%s' not found", id)})
		return
	}
	if err != nil {
		s.bus.Errorf("Failed to get session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get session: %v", err)})
		return
	}
	if ctx.Messages == nil {
		ctx.Messages = []session.Message{}
	}
	if ctx.Memories == nil {
		ctx.Memories = []session.Memory{}
	}

	s.bus.Response(http.StatusOK, "/api/sessions",
		fmt.Sprintf("session %s with %d messages", id, len(ctx.Messages)))
	c.JSON(http.StatusOK, gin.H{"context": ctx})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	id := c.Param("id")
	s.bus.Request("DELETE", "/api/sessions", "deleting session "+id)

	err := s.sessions.DeleteSession(id)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Session '%s' not found", id)})
		return
	}
	if err != nil {
		s.bus.Errorf("Failed to delete session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to delete session: %v", err)})
		return
	}

	// Only a successful delete releases the current-session pointer.
	s.clearCurrentSessionIf(id)

	_, _ = s.sessions.RecordMemory("session_deleted", "Session cleared/deleted: "+id, "", "")

	s.bus.Response(http.StatusOK, "/api/sessions", "deleted session "+id)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
}

func (s *Server) handleClearSessions(c *gin.Context) {
	s.bus.Request("POST", "/api/sessions/clear", "clearing all sessions")

	s.clearCurrentSessionIf("")

	if _, err := s.sessions.ClearAllSessions(); err != nil {
		s.bus.Errorf("Failed to clear sessions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to clear sessions: %v", err)})
		return
	}

	_, _ = s.sessions.RecordMemory("all_sessions_cleared", "All sessions cleared - full context reset", "", "")

	s.bus.Response(http.StatusOK, "/api/sessions/clear", "all sessions cleared")
	c.JSON(http.StatusOK, gin.H{
		"status":  "cleared",
		"message": "All sessions and messages cleared",
	})
}

func (s *Server) handleGetMessages(c *gin.Context) {
	id := c.Param("id")
	s.bus.Request("GET", "/api/sessions/messages", "getting messages for "+id)

	messages, err := s.sessions.GetMessages(id)
	if err != nil {
		s.bus.Errorf("Failed to get messages: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get messages: %v", err)})
		return
	}
	if messages == nil {
		messages = []session.Message{}
	}

	s.bus.Response(http.StatusOK, "/api/sessions/messages", fmt.Sprintf("%d messages", len(messages)))
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

type addMessageRequest struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Metadata string `json:"metadata"`
}

func (s *Server) handleAddMessage(c *gin.Context) {
	id := c.Param("id")
	var body addMessageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(body.Role) == "" || body.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role and content are required"})
		return
	}

	s.bus.Request("POST", "/api/sessions/messages", "adding message to "+id)

	msg, err := s.sessions.AddMessage(id, body.Role, body.Content, body.Metadata)
	if errors.Is(err, session.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Session '%s' not found", id)})
		return
	}
	if err != nil {
		s.bus.Errorf("Failed to add message: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to add message: %v", err)})
		return
	}

	s.bus.Response(http.StatusCreated, "/api/sessions/messages", fmt.Sprintf("message %d added", msg.ID))
	c.JSON(http.StatusCreated, msg)
}

type chatWithSessionRequest struct {
	SessionID string                  `json:"session_id"`
	Model     string                  `json:"model"`
	Messages  []inference.ChatMessage `json:"messages"`
	Stream    bool                    `json:"stream"`
	Options   *inference.Options      `json:"options"`
	Persist   *bool                   `json:"persist"`
}

func (s *Server) handleChatWithSession(c *gin.Context) {
	var body chatWithSessionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	modelName := body.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel()
	}
	persist := body.Persist == nil || *body.Persist

	// Resolve the session. A caller-supplied id that does not exist gets a
	// fresh session; the caller must read the returned session_id.
	sessionID := body.SessionID
	if sessionID != "" {
		if _, err := s.sessions.GetSession(sessionID); errors.Is(err, session.ErrNotFound) {
			sessionID = ""
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if sessionID == "" {
		sess, err := s.sessions.CreateSession(modelName, "")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		sessionID = sess.ID
	}

	s.setCurrentSession(sessionID)
	s.bus.Request("POST", "/api/chat/session", fmt.Sprintf("session=%s, model=%s", sessionID, modelName))

	swapNeeded := modelName != "" && s.holder.CurrentName() != modelName
	engine, status, err := s.acquireEngine(modelName)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if swapNeeded {
		_ = s.sessions.UpdateSessionModel(sessionID, modelName)
	}

	if persist && len(body.Messages) > 0 {
		lastMsg := body.Messages[len(body.Messages)-1]
		if lastMsg.Role == "user" {
			_, _ = s.sessions.AddMessage(sessionID, lastMsg.Role, lastMsg.Content, "")
			if len(body.Messages) == 1 {
				title := truncateRunes(lastMsg.Content, sessionTitleMaxLength)
				_ = s.sessions.UpdateSessionTitle(sessionID, title)
			}
		}
	}

	prompt := inference.BuildChatPrompt(body.Messages)

	start := time.Now()
	output, err := engine.Generate(prompt, body.Options.Normalized())
	if err != nil {
		s.bus.Errorf("Inference failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Inference error: %v", err)})
		return
	}
	elapsed := time.Since(start)
	s.metrics.ObserveInference(elapsed.Seconds())

	if persist {
		_, _ = s.sessions.AddMessage(sessionID, "assistant", output, "")
	}

	messageCount := 0
	if sess, err := s.sessions.GetSession(sessionID); err == nil {
		messageCount = sess.MessageCount
	}

	s.bus.Model("COMPLETE", modelName,
		fmt.Sprintf("session=%s, output=%dB, time=%.2fs", sessionID, len(output), elapsed.Seconds()))

	c.JSON(http.StatusOK, gin.H{
		"model": modelName,
		"message": inference.ChatMessage{
			Role:    "assistant",
			Content: output,
		},
		"done":          true,
		"session_id":    sessionID,
		"message_count": messageCount,
	})
}

func (s *Server) handleGetMemories(c *gin.Context) {
	limit := defaultMemoriesLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	eventType := c.Query("type")

	s.bus.Request("GET", "/api/memory", fmt.Sprintf("limit=%d, type=%q", limit, eventType))

	memories, err := s.sessions.GetMemories(limit, eventType)
	if err != nil {
		s.bus.Errorf("Failed to get memories: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get memories: %v", err)})
		return
	}
	if memories == nil {
		memories = []session.Memory{}
	}

	s.bus.Response(http.StatusOK, "/api/memory", fmt.Sprintf("%d memories", len(memories)))
	c.JSON(http.StatusOK, gin.H{"memories": memories})
}

type recordMemoryRequest struct {
	EventType string `json:"event_type"`
	Summary   string `json:"summary"`
	SessionID string `json:"session_id"`
	Metadata  string `json:"metadata"`
}

func (s *Server) handleRecordMemory(c *gin.Context) {
	var body recordMemoryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(body.EventType) == "" || strings.TrimSpace(body.Summary) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_type and summary are required"})
		return
	}

	s.bus.Request("POST", "/api/memory", "type="+body.EventType)

	memory, err := s.sessions.RecordMemory(body.EventType, body.Summary, body.SessionID, body.Metadata)
	if err != nil {
		s.bus.Errorf("Failed to record memory: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to record memory: %v", err)})
		return
	}

	s.bus.Response(http.StatusCreated, "/api/memory", fmt.Sprintf("memory %d recorded", memory.ID))
	c.JSON(http.StatusCreated, memory)
}

func (s *Server) handleClearMemory(c *gin.Context) {
	s.bus.Request("POST", "/api/memory/clear", "clearing all memory")

	if _, err := s.sessions.ClearMemories(); err != nil {
		s.bus.Errorf("Failed to clear memory: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to clear memory: %v", err)})
		return
	}

	s.bus.Response(http.StatusOK, "/api/memory/clear", "memory cleared")
	c.JSON(http.StatusOK, gin.H{
		"status":  "cleared",
		"message": "All episodic memory cleared",
	})
}
