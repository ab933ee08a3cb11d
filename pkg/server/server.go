// Package server exposes the HTTP surface: health, settings, search
// and QA, the memory subsystem, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synvo-ai/Local-Cocoa/pkg/clients"
	"github.com/synvo-ai/Local-Cocoa/pkg/config"
	"github.com/synvo-ai/Local-Cocoa/pkg/indexer"
	"github.com/synvo-ai/Local-Cocoa/pkg/memory"
	"github.com/synvo-ai/Local-Cocoa/pkg/search"
	"github.com/synvo-ai/Local-Cocoa/pkg/store"
)

// Server ties the subsystems to HTTP handlers.
type Server struct {
	cfg      *config.Config
	settings *config.Store
	store    *store.Store
	engine   *search.Engine
	memories *memory.Service
	state    *indexer.StateManager
	health   *clients.HealthCache
	registry *prometheus.Registry
	log      *slog.Logger

	httpServer *http.Server
}

// New builds the server and its router.
func New(
	cfg *config.Config,
	settings *config.Store,
	st *store.Store,
	engine *search.Engine,
	memories *memory.Service,
	state *indexer.StateManager,
	registry *prometheus.Registry,
	log *slog.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		settings: settings,
		store:    st,
		engine:   engine,
		memories: memories,
		state:    state,
		health:   clients.NewHealthCache(),
		registry: registry,
		log:      log,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.handleHealth)
	r.Get("/settings/", s.handleGetSettings)
	r.Patch("/settings/", s.handlePatchSettings)
	r.Post("/search", s.handleSearch)
	r.Post("/search/stream", s.handleSearchStream)
	r.Post("/qa", s.handleQa)

	r.Route("/memory", func(r chi.Router) {
		r.Post("/memorize", s.handleMemorize)
		r.Post("/search", s.handleMemorySearch)
		r.Get("/{userID}", s.handleUserSummary)
		r.Get("/{userID}/episodes", s.handleEpisodes)
		r.Get("/{userID}/events", s.handleEventLogs)
		r.Get("/{userID}/foresights", s.handleForesights)
	})

	if s.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", "addr", s.cfg.Listen)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("could not write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"detail": msg})
}

func decodeBody[T any](r *http.Request) (T, error) {
	var v T
	err := json.NewDecoder(r.Body).Decode(&v)
	return v, err
}
