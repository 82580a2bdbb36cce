// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"estate-notifier/pkg/estate"
	"estate-notifier/schedule"
)

// Trigger is a job that can be started by hand, e.g. by Cloud Scheduler.
type Trigger interface {
	Name() string
	Running() bool
	TryRun(ctx context.Context) error
}

// Store interface for listing queries.
type Store interface {
	FindByTypes(ctx context.Context, types []estate.Type) ([]*estate.Listing, error)
}

// Server handles HTTP requests.
type Server struct {
	store    Store
	triggers map[string]Trigger
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	mu      sync.Mutex
	baseCtx context.Context
	wg      sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Store    Store
	Crawl    Trigger
	Sweep    Trigger
	Digest   Trigger
	Gatherer prometheus.Gatherer // nil uses the default registry
	Logger   *slog.Logger
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	g := cfg.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return &Server{
		store: cfg.Store,
		triggers: map[string]Trigger{
			"/crawlz":  cfg.Crawl,
			"/sweepz":  cfg.Sweep,
			"/digestz": cfg.Digest,
		},
		gatherer: g,
		logger:   cfg.Logger,
		baseCtx:  context.Background(),
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/listings", s.handleListings)
	for path, t := range s.triggers {
		if t != nil {
			mux.HandleFunc(path, s.handleTrigger(t))
		}
	}
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// ListenAndServe serves until ctx is done, then shuts down and waits for triggered jobs.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown", "error", err)
	}
	s.wg.Wait()
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

// handleTrigger starts the job in the background and answers 202, or 409 when it is already running.
func (s *Server) handleTrigger(t Trigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if t.Running() {
			s.writeJSON(w, http.StatusConflict, map[string]string{"status": "running", "job": t.Name()})
			return
		}

		s.logger.Info("Trigger endpoint called", "job", t.Name(), "remote_addr", r.RemoteAddr)
		s.mu.Lock()
		ctx := s.baseCtx
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := t.TryRun(ctx); err != nil && !errors.Is(err, schedule.ErrRunning) {
				s.logger.Error("Triggered job failed", "job", t.Name(), "error", err)
			}
		}()
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "job": t.Name()})
	}
}

// handleListings returns stored listings whose type label contains ?type=, newest first.
func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	types := estate.Types
	if fragment := strings.TrimSpace(r.URL.Query().Get("type")); fragment != "" {
		types = estate.TypesMatching(fragment)
	}

	listings, err := s.store.FindByTypes(r.Context(), types)
	if err != nil {
		s.logger.Error("Failed to query listings", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	sort.SliceStable(listings, func(i, j int) bool {
		return listings[i].LastModified.After(listings[j].LastModified)
	})
	if listings == nil {
		listings = []*estate.Listing{}
	}
	s.writeJSON(w, http.StatusOK, listings)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
