// Package health provides the HTTP health and metrics endpoints.
//
// Docker and Kubernetes use /healthz for liveness and /readyz for readiness.
// The daemon is live once startup finished; it is ready while at least one
// synthesis engine passed its last probe. /metrics serves Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Server is a lightweight HTTP server that exposes /healthz, /readyz and /metrics.
type Server struct {
	port    int
	started atomic.Bool
	ready   func() bool
	metrics http.Handler
	server  *http.Server
}

// New creates a new health check server. ready reports engine availability;
// metrics may be nil to disable /metrics.
func New(port int, ready func() bool, metrics http.Handler) *Server {
	return &Server{port: port, ready: ready, metrics: metrics}
}

// SetStarted marks startup as finished.
func (s *Server) SetStarted(started bool) {
	s.started.Store(started)
}

// Handler returns the health routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, s.started.Load(), "starting")
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.started.Load() {
			writeStatus(w, false, "starting")
			return
		}
		writeStatus(w, s.ready == nil || s.ready(), "no_engine_available")
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// ListenAndServe starts the health check HTTP server.
// It blocks until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("health server listening", "port", s.port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("health server: %w", err)
	}
	return nil
}

func writeStatus(w http.ResponseWriter, ok bool, reason string) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": reason})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
