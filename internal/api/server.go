// Package api exposes the archiver's health and Prometheus metrics over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/archive"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/config"
	"github.com/jonesrussell/north-cloud/warc-archiver/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultShutdownTimeout = 10 * time.Second

var setModeOnce sync.Once

// StatsProvider reports the state of a running archive actor.
type StatsProvider interface {
	Stats() archive.Stats
}

// Server serves /health and /metrics for one archive actor.
type Server struct {
	router *gin.Engine
	server *http.Server
	logger logger.Logger
}

// NewServer creates the health and metrics server. Metrics are served from gatherer.
func NewServer(cfg config.ServerConfig, log logger.Logger, stats StatsProvider, gatherer prometheus.Gatherer) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	setModeOnce.Do(func() { gin.SetMode(gin.ReleaseMode) })

	router := gin.New()
	router.Use(RecoveryMiddleware(log))
	router.Use(RequestIDMiddleware())
	router.Use(LoggerMiddleware(log))

	started := time.Now()
	router.GET("/health", healthHandler(stats, started))
	router.HEAD("/health", healthHandler(stats, started))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Server{
		router: router,
		server: &http.Server{
			Addr:         cfg.Address,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: log,
	}
}

// Handler exposes the router to httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StartAsync listens in a goroutine. The channel yields a listen error, if
// any, and is closed once the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	s.logger.Info("Serving health and metrics", logger.String("address", s.server.Addr))

	go func() {
		defer close(errCh)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen on %s: %w", s.server.Addr, err)
		}
	}()
	return errCh
}

// Shutdown stops the server, waiting at most ten seconds for open requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
