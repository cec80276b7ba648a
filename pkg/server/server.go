// Package server exposes the hosted fleet over HTTP: per-agent chat and
// streaming, discovery cards, the A2A task API, and the operational
// endpoints (health, metrics).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/registry"
	"github.com/atriumhq/atrium/pkg/task"
)

// Options carries the server's runtime dependencies.
type Options struct {
	// Registry is the hosted fleet. Required.
	Registry *registry.AgentRegistry

	// Executor runs A2A tasks. Required.
	Executor *task.Executor

	// Observability provides the tracer, metrics recorder, and the
	// /metrics handler. Nil disables telemetry middleware and /metrics.
	Observability *observability.Manager

	// Version is reported by /health and the discovery cards.
	Version string
}

// Server serves the fleet.
type Server struct {
	cfg      *config.Config
	registry *registry.AgentRegistry
	executor *task.Executor
	obs      *observability.Manager
	version  string
	server   *http.Server
}

// New builds the server. The config must already have defaults applied.
func New(cfg *config.Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("agent registry is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("task executor is required")
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		cfg:      cfg,
		registry: opts.Registry,
		executor: opts.Executor,
		obs:      opts.Observability,
		version:  version,
	}, nil
}

// Router builds the full handler tree. Exposed so tests can serve it
// through httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	// Trace ids are assigned first so the recovery envelope and request
	// logs can carry them.
	r.Use(traceIDMiddleware)
	r.Use(requestLogger)
	r.Use(s.recovery)
	r.Use(corsMiddleware)
	if s.obs != nil {
		r.Use(s.telemetry)
	}

	r.Get("/agents", s.handleListAgents)
	r.Route("/agents/{path}", func(r chi.Router) {
		r.Get("/", s.handleGetAgent)
		r.Post("/chat", s.handleChat)
		r.Post("/stream", s.handleChatStream)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/health/live", s.handleLive)
	r.Get("/health/ready", s.handleReady)

	r.Get("/.well-known/agent.json", s.handleServiceCard)
	r.Get("/.well-known/agents/{path}/agent.json", s.handleAgentCard)

	r.Route("/a2a/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Post("/cancel", s.handleCancelTask)
			r.Get("/stream", s.handleTaskStream)
		})
	})

	if s.obs != nil && s.cfg.Observability.MetricsOn() {
		r.Get("/metrics", s.obs.MetricsHandler().ServeHTTP)
	}

	return r
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.ListenAddr(),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	slog.Info("HTTP server starting", "address", s.cfg.ListenAddr(), "agents", s.registry.Count())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	slog.Info("HTTP server shutting down")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
