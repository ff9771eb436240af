package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/inference"
	"github.com/inaim-finailabz/aurora/internal/pull"
)

type chatRequest struct {
	Model    string                  `json:"model"`
	Messages []inference.ChatMessage `json:"messages"`
	Stream   bool                    `json:"stream"`
	Options  *inference.Options      `json:"options"`
}

type generateRequest struct {
	Model   string             `json:"model"`
	Prompt  string             `json:"prompt"`
	Stream  bool               `json:"stream"`
	Options *inference.Options `json:"options"`
}

// acquireEngine resolves the engine for a request. An explicit (or
// defaulted) name triggers a load-and-swap when it differs from the
// resident engine; an empty name falls back to whatever is loaded.
func (s *Server) acquireEngine(name string) (inference.Engine, int, error) {
	if name == "" {
		engine, ok := s.holder.Current()
		if !ok {
			s.bus.Errorf("No model loaded for inference")
			return nil, http.StatusInternalServerError, errors.New("No model loaded")
		}
		return engine, 0, nil
	}

	engine, err := s.holder.Ensure(name)
	if err != nil {
		s.bus.Errorf("Failed to load model %s: %v", name, err)
		return nil, http.StatusNotFound, fmt.Errorf("Model '%s' not found: %v", name, err)
	}
	return engine, 0, nil
}

// promoteDefault records the last chatted model as the configured default.
// A deliberate side effect of the chat endpoints.
func (s *Server) promoteDefault(name string) {
	if name == "" || s.cfg.DefaultModel() == name {
		return
	}
	err := s.cfg.Update(func(cfg *config.AppConfig) {
		cfg.DefaultModel = name
	})
	if err != nil {
		s.bus.Errorf("Failed to save config: %v", err)
		return
	}
	s.bus.Model("DEFAULT", name, "set as default model")
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (s *Server) handleChat(c *gin.Context) {
	var body chatRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	modelName := body.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel()
	}

	last := ""
	if len(body.Messages) > 0 {
		last = truncateRunes(body.Messages[len(body.Messages)-1].Content, 50)
	}
	s.bus.Request("POST", "/api/chat",
		fmt.Sprintf("model=%s, messages=%d, last=\"%s...\"", modelName, len(body.Messages), last))

	engine, status, err := s.acquireEngine(modelName)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.promoteDefault(modelName)

	prompt := inference.BuildChatPrompt(body.Messages)
	s.bus.Model("INFERENCE", modelName, fmt.Sprintf("prompt=%dB, generating...", len(prompt)))

	start := time.Now()
	output, err := engine.Generate(prompt, body.Options.Normalized())
	if err != nil {
		s.bus.Errorf("Inference failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Inference error: %v", err)})
		return
	}
	elapsed := time.Since(start)
	s.metrics.ObserveInference(elapsed.Seconds())

	s.bus.Model("COMPLETE", modelName, fmt.Sprintf("output=%dB, time=%.2fs", len(output), elapsed.Seconds()))
	s.bus.Response(http.StatusOK, "/api/chat",
		fmt.Sprintf("generated %d chars in %.2fs", len(output), elapsed.Seconds()))

	c.JSON(http.StatusOK, gin.H{
		"model": modelName,
		"message": inference.ChatMessage{
			Role:    "assistant",
			Content: output,
		},
		"done": true,
	})
}

func (s *Server) handleGenerate(c *gin.Context) {
	var body generateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	modelName := body.Model
	if modelName == "" {
		modelName = s.cfg.DefaultModel()
	}

	s.bus.Request("POST", "/api/generate",
		fmt.Sprintf("model=%s, prompt=\"%s...\"", modelName, truncateRunes(body.Prompt, 50)))

	engine, status, err := s.acquireEngine(modelName)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	s.promoteDefault(modelName)

	s.bus.Model("INFERENCE", modelName, fmt.Sprintf("prompt=%dB, generating...", len(body.Prompt)))

	start := time.Now()
	output, err := engine.Generate(body.Prompt, body.Options.Normalized())
	if err != nil {
		s.bus.Errorf("Inference failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Inference error: %v", err)})
		return
	}
	elapsed := time.Since(start)
	s.metrics.ObserveInference(elapsed.Seconds())

	s.bus.Model("COMPLETE", modelName, fmt.Sprintf("output=%dB, time=%.2fs", len(output), elapsed.Seconds()))
	s.bus.Response(http.StatusOK, "/api/generate",
		fmt.Sprintf("generated %d chars in %.2fs", len(output), elapsed.Seconds()))

	c.JSON(http.StatusOK, gin.H{
		"model":    modelName,
		"response": output,
		"done":     true,
	})
}

func (s *Server) handlePull(c *gin.Context) {
	var body pull.Request
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if body.Name == "" || (body.DirectURL == "" && (body.RepoID == "" || body.Filename == "")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, repo_id and filename are required"})
		return
	}

	s.bus.Request("POST", "/api/pull",
		fmt.Sprintf("name=%s, repo=%s, file=%s, revision=%s, direct=%s",
			body.Name, body.RepoID, body.Filename, body.Revision, body.DirectURL))

	s.puller.Start(body)

	s.bus.Response(http.StatusAccepted, "/api/pull", "download started for "+body.Name)
	c.JSON(http.StatusAccepted, gin.H{
		"status": "downloading",
		"name":   body.Name,
	})
}
