// Package server exposes background removal over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/chaos-io/rembg/cache"
	"github.com/chaos-io/rembg/processor"
)

// Http timeouts
const (
	ReadTimeout     = 30 * time.Second
	WriteTimeout    = 2 * time.Minute
	ShutdownTimeout = 30 * time.Second
)

const maxUploadSize = 32 << 20

type Server struct {
	Processor *processor.Processor
	Cache     cache.Provider
	Log       *slog.Logger

	auto     *cache.Auto
	registry *prometheus.Registry
	metrics  *metrics
	cron     *cron.Cron
}

func New(p *processor.Processor, provider cache.Provider, log *slog.Logger) *Server {
	registry := prometheus.NewRegistry()
	return &Server{
		Processor: p,
		Cache:     provider,
		Log:       log,
		auto:      &cache.Auto{Provider: provider},
		registry:  registry,
		metrics:   newMetrics(registry),
		cron:      cron.New(),
	}
}

// Router returns the gin engine serving the API.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = maxUploadSize
	r.Use(gin.Recovery(), s.requestID(), s.logger(), s.instrument())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	r.POST("/api/remove", s.remove)

	return r
}

// SchedulePurge empties the result cache on the given cron schedule,
// e.g. "@every 30m". An empty spec disables purging.
func (s *Server) SchedulePurge(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		s.Cache.Purge()
		s.Log.Info("purged result cache")
	})
	if err != nil {
		return fmt.Errorf("schedule cache purge %q: %w", spec, err)
	}
	return nil
}

// Run serves on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
	}

	s.cron.Start()
	defer s.cron.Stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	s.Log.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.Log.Info("shutting down the http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
