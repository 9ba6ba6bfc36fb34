// Package api implements the HTTP and WebSocket front-end of the engine.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jsonjet/jsonjet/pkg/engine"
	"github.com/jsonjet/jsonjet/pkg/sink"
)

// Server is the HTTP API server.
type Server struct {
	eng      *engine.Engine
	triggers *sink.TriggerManager
	logger   *zap.Logger
	router   *gin.Engine
}

// NewServer creates a new API server.
func NewServer(eng *engine.Engine, triggers *sink.TriggerManager, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		eng:      eng,
		triggers: triggers,
		logger:   logger,
		router:   router,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/execute", s.handleExecute)
		api.GET("/streams", s.handleListStreams)
		api.POST("/triggers", s.handleAddTrigger)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleExecute runs a Jet program: {query} in, the execute envelope out.
func (s *Server) handleExecute(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := s.eng.Execute(c.Request.Context(), req.Query)
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, resp)
}

func (s *Server) handleListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"streams": s.eng.Manager().ListStreams()})
}

func (s *Server) handleAddTrigger(c *gin.Context) {
	if s.triggers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "triggers not configured"})
		return
	}
	var req struct {
		Name   string            `json:"name"`
		Stream string            `json:"stream"`
		Sink   string            `json:"sink"`
		Config map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.triggers.AddTrigger(sink.TriggerConfig{
		Name:   req.Name,
		Stream: req.Stream,
		Sink:   sink.SinkType(req.Sink),
		Config: req.Config,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created", "name": req.Name})
}
