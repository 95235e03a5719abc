// Package api implements the HTTP surface of the service: message management
// endpoints, the Slack OAuth install flow, health, and metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sendlater/sendlater/internal/config"
	"github.com/sendlater/sendlater/internal/database"
	"github.com/sendlater/sendlater/internal/logger"
	"github.com/sendlater/sendlater/internal/metrics"
	"github.com/sendlater/sendlater/internal/slack"
)

// Installer is the part of the Slack client used by the OAuth install flow.
type Installer interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*slack.Installation, error)
}

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	cfg        config.ServerConfig
	store      database.Store
	installer  Installer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a new API server. metrics may be nil; the /metrics
// endpoint is only registered when it is not.
func NewServer(cfg config.ServerConfig, store database.Store, installer Installer, m *metrics.Metrics, log *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		router:    gin.New(),
		cfg:       cfg,
		store:     store,
		installer: installer,
		metrics:   m,
		logger:    log.With("component", "api"),
	}

	s.router.HandleMethodNotAllowed = true
	s.router.Use(gin.Recovery())
	s.router.Use(logger.Middleware(log))
	if m != nil {
		s.router.Use(metrics.Middleware(m))
	}

	s.setupRoutes()
	return s
}

// Router returns the gin router for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.router.GET("/slack/install", s.handleInstall)
	s.router.GET("/slack/oauth/callback", s.handleOAuthCallback)

	v1 := s.router.Group("/api/v1")
	v1.Use(apiKeyAuth(s.cfg.APIKeys, s.logger))
	v1.Use(tenantAuth())
	{
		v1.POST("/messages", s.handleScheduleMessage)
		v1.GET("/messages", s.handleListMessages)
		v1.DELETE("/messages/:id", s.handleCancelMessage)
		v1.POST("/disconnect", s.handleDisconnect)
	}
}

// Start begins serving on the configured address and blocks until the
// listener closes.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports liveness, including database reachability.
func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
