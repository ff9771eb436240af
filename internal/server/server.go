// Package server wires the HTTP surface: routing, JSON serialization, error
// mapping, and the paired request/response log events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/inaim-finailabz/aurora/internal/catalog"
	"github.com/inaim-finailabz/aurora/internal/config"
	"github.com/inaim-finailabz/aurora/internal/inference"
	"github.com/inaim-finailabz/aurora/internal/logbus"
	"github.com/inaim-finailabz/aurora/internal/metrics"
	"github.com/inaim-finailabz/aurora/internal/pull"
	"github.com/inaim-finailabz/aurora/internal/session"
)

// Server glues the subsystems behind the HTTP API.
type Server struct {
	cfg      *config.Store
	bus      *logbus.Bus
	catalog  *catalog.Manager
	puller   *pull.Worker
	holder   *inference.Holder
	sessions *session.Store
	metrics  *metrics.Metrics

	// currentSession tracks the most recently created or chatted session.
	curMu          sync.RWMutex
	currentSession string

	engine     *gin.Engine
	httpServer *http.Server
}

// New assembles the server. The caller owns the lifetimes of the stores.
func New(
	cfg *config.Store,
	bus *logbus.Bus,
	cat *catalog.Manager,
	puller *pull.Worker,
	holder *inference.Holder,
	sessions *session.Store,
	m *metrics.Metrics,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:      cfg,
		bus:      bus,
		catalog:  cat,
		puller:   puller,
		holder:   holder,
		sessions: sessions,
		metrics:  m,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
	engine.Use(cors.New(corsConfig))

	engine.Use(s.countRequests())

	s.registerRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/", s.handleIndex)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := engine.Group("/api")
	{
		api.GET("/settings", s.handleGetSettings)
		api.POST("/settings", s.handlePostSettings)

		api.GET("/models", s.handleListModels)
		api.DELETE("/models/:name", s.handleDeleteModel)
		api.GET("/popular-models", s.handlePopularModels)

		api.GET("/templates", s.handleTemplates)
		api.GET("/custom-models", s.handleListCustomModels)
		api.POST("/custom-models", s.handleCreateCustomModel)
		api.GET("/custom-models/:name", s.handleGetCustomModel)
		api.DELETE("/custom-models/:name", s.handleDeleteCustomModel)

		api.POST("/chat", s.handleChat)
		api.POST("/generate", s.handleGenerate)
		api.POST("/pull", s.handlePull)

		api.POST("/log", s.handleFrontendLog)
		api.GET("/logs", s.handleLogs)
		api.GET("/logs/stream", s.handleLogStream)

		api.GET("/sessions", s.handleListSessions)
		api.POST("/sessions", s.handleCreateSession)
		api.POST("/sessions/clear", s.handleClearSessions)
		api.GET("/sessions/:id", s.handleGetSession)
		api.DELETE("/sessions/:id", s.handleDeleteSession)
		api.GET("/sessions/:id/messages", s.handleGetMessages)
		api.POST("/sessions/:id/messages", s.handleAddMessage)
		api.POST("/chat/session", s.handleChatWithSession)

		api.GET("/memory", s.handleGetMemories)
		api.POST("/memory", s.handleRecordMemory)
		api.POST("/memory/clear", s.handleClearMemory)
	}
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status())
	}
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.engine
}

// Start binds the listener and serves until Stop.
func (s *Server) Start() error {
	cfg := s.cfg.Snapshot()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	s.bus.Infof("Aurora backend starting on %s", addr)
	s.bus.Infof("Config path: %s", s.cfg.Path())
	s.bus.Infof("Storage dir: %s", cfg.StorageDir)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop drains the server with a shutdown deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) setCurrentSession(id string) {
	s.curMu.Lock()
	s.currentSession = id
	s.curMu.Unlock()
}

func (s *Server) clearCurrentSessionIf(id string) {
	s.curMu.Lock()
	if id == "" || s.currentSession == id {
		s.currentSession = ""
	}
	s.curMu.Unlock()
}

func (s *Server) getCurrentSession() string {
	s.curMu.RLock()
	defer s.curMu.RUnlock()
	return s.currentSession
}

const indexHTML = `<!DOCTYPE html>
<html>
  <head><title>Aurora API</title></head>
  <body style="font-family: sans-serif; max-width: 720px; margin: 40px auto;">
    <h1>Aurora API</h1>
    <p>From the brain of FinAI Labz - copyright 2026.</p>
    <p>This server powers the Aurora desktop app.</p>
    <p>Endpoints: /health, /api/models, /api/popular-models, /api/chat, /api/generate, /api/pull, /api/settings, /api/log, /api/logs</p>
  </body>
</html>`

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}
