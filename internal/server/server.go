package server

import (
	"context"
	"fmt"
	"net/http"

	"futures-rollover-bot/internal/config"
	"futures-rollover-bot/internal/queue"
	"futures-rollover-bot/internal/registry"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the webhook and management API over HTTP. It is a thin
// layer: requests are validated synchronously and turned into queue jobs or
// registry operations; no business logic lives here.
type Server struct {
	httpServer *http.Server
	queue      *queue.Queue
	registry   *registry.Registry
	logger     *zap.Logger
}

// NewServer creates the HTTP server with all routes registered.
func NewServer(cfg *config.Server, q *queue.Queue, reg *registry.Registry, logger *zap.Logger) *Server {
	s := &Server{
		queue:    q,
		registry: reg,
		logger:   logger.Named("api-server"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.healthHandler)
	router.POST("/webhook", s.webhookHandler)

	api := router.Group("/api")
	{
		api.GET("/jobs/:id", s.jobStatusHandler)
		api.GET("/strategies", s.listStrategiesHandler)
		api.POST("/strategies", s.createStrategyHandler)
		api.PUT("/strategies/:id", s.updateStrategyHandler)
		api.DELETE("/strategies/:id", s.deleteStrategyHandler)
		api.POST("/strategies/:id/rollover", s.rolloverHandler)
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}
