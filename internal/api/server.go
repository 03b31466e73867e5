package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/broken-image-crawler/internal/crawl"
	"github.com/JakeFAU/broken-image-crawler/internal/findings"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

// RunSource reports the live crawl summary.
type RunSource interface {
	Snapshot() crawl.Summary
}

// FindingsSource lists findings recorded during this process.
type FindingsSource interface {
	Entries() []findings.Finding
}

// Server wires HTTP handlers to the running crawl.
type Server struct {
	router   chi.Router
	run      RunSource
	findings FindingsSource
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. /metrics serves
// reg, which also receives the status server's own request collectors.
func NewServer(
	run RunSource,
	found FindingsSource,
	reg *prometheus.Registry,
	logger *zap.Logger,
) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	httpMetrics, err := newHTTPMetrics(reg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		run:      run,
		findings: found,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(httpMetrics.middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	r.Route("/v1/run", func(r chi.Router) {
		r.Get("/", s.getRun)
		r.Get("/findings", s.getFindings)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server started", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready once a run has started.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.run == nil || s.run.Snapshot().StartedAt.IsZero() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getRun(w http.ResponseWriter, _ *http.Request) {
	if s.run == nil {
		writeError(w, http.StatusServiceUnavailable, "no crawl attached")
		return
	}
	writeJSON(w, http.StatusOK, s.run.Snapshot())
}

func (s *Server) getFindings(w http.ResponseWriter, _ *http.Request) {
	if s.findings == nil {
		writeError(w, http.StatusServiceUnavailable, "no findings log attached")
		return
	}
	entries := s.findings.Entries()
	if entries == nil {
		entries = []findings.Finding{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(entries),
		"findings": entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
