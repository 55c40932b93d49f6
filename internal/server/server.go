// Package server exposes the operational HTTP endpoints of the monitor.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/ebbo_monitor/pkg/telemetry"
)

// Status is the daemon state reported by the server.
type Status interface {
	Ready() bool
	NextBlock() uint64
	Pending() map[string][]string
}

// Server represents the ops HTTP server
type Server struct {
	logger *zap.Logger
	status Status
	// config is rendered as YAML on /config; it must not contain secrets.
	config interface{}
	http   *http.Server
}

// NewServer creates a new ops server
func NewServer(logger *zap.Logger, status Status, config interface{}) *Server {
	return &Server{
		logger: logger,
		status: status,
		config: config,
	}
}

// Router creates the HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(telemetry.ServiceName))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/queues", s.handleQueues)
	router.GET("/config", s.handleConfig)

	return router
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.status.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "waiting for chain head"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "next_block": s.status.NextBlock()})
}

func (s *Server) handleQueues(c *gin.Context) {
	pending := s.status.Pending()
	total := 0
	for _, hashes := range pending {
		total += len(hashes)
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "tests": pending})
}

func (s *Server) handleConfig(c *gin.Context) {
	out, err := yaml.Marshal(s.config)
	if err != nil {
		s.logger.Error("Failed to render config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to render config"})
		return
	}
	c.Data(http.StatusOK, "application/yaml", out)
}

// Start listens on port until Shutdown is called.
func (s *Server) Start(port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting ops server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
