package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultLogsLimit = 200

type frontendLog struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

func (s *Server) handleFrontendLog(c *gin.Context) {
	var body frontendLog
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	message := strings.TrimSpace(body.Message)
	if message == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored", "reason": "empty message"})
		return
	}

	level := body.Level
	if level == "" {
		level = "FRONTEND"
	}
	s.bus.Infof("[%s] %s", strings.ToUpper(level), message)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLogs(c *gin.Context) {
	limit := defaultLogsLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			limit = parsed
		}
	}

	entries := s.bus.Tail(limit)
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = entry.Line
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// handleLogStream pushes live log lines as server-sent events. History is
// not replayed; clients fetch it from /api/logs.
func (s *Server) handleLogStream(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.String(http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	id, entries := s.bus.Subscribe()
	defer s.bus.Unsubscribe(id)

	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Heartbeat keeps intermediaries from closing an idle stream.
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case entry, open := <-entries:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", entry.Line); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
