// Package httpapi exposes health, status and session control over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aria/internal/control"
)

// Dispatcher is satisfied by *control.Dispatcher.
type Dispatcher interface {
	Dispatch(raw string) control.Reply
	Status() control.StatusReport
}

type config struct {
	ready   func() error
	metrics bool
}

type Option func(*config)

// WithReady sets the readiness probe. A non-nil error makes /readyz fail.
func WithReady(fn func() error) Option {
	return func(c *config) { c.ready = fn }
}

// WithMetrics mounts the Prometheus scrape handler at /metrics.
func WithMetrics() Option {
	return func(c *config) { c.metrics = true }
}

// NewRouter builds the HTTP handler tree.
func NewRouter(d Dispatcher, opts ...Option) http.Handler {
	cfg := config{ready: func() error { return nil }}
	for _, o := range opts {
		o(&cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if err := cfg.ready(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Status())
	})

	r.Post("/session/{cmd}", func(w http.ResponseWriter, req *http.Request) {
		reply := d.Dispatch(chi.URLParam(req, "cmd"))
		status := http.StatusOK
		if !reply.OK {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, reply)
	})

	if cfg.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
