// Package server exposes the admin HTTP surface: health, metrics, and
// queue introspection.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/outpostmail/outpost/internal/workqueue"
)

// QueueInspector is the read-only view of the work runtime the admin
// endpoints expose.
type QueueInspector interface {
	Snapshot() []workqueue.UnitStatus
	Stats() map[workqueue.UnitState]int
}

// Config configures the admin server.
type Config struct {
	ListenAddr string
	RateLimit  float64
	RateBurst  int
}

// Admin serves the admin endpoints.
type Admin struct {
	config  Config
	queue   QueueInspector
	healthy func() bool
	logger  *slog.Logger
	httpSrv *http.Server
}

// New creates an admin server. healthy reports overall process health;
// nil means always healthy.
func New(cfg Config, queue QueueInspector, healthy func() bool, logger *slog.Logger) *Admin {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	a := &Admin{
		config:  cfg,
		queue:   queue,
		healthy: healthy,
		logger:  logger.With("component", "admin-server"),
	}
	a.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      a.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a
}

// Handler builds the admin router.
func (a *Admin) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(a.rateLimitMiddleware())

	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/queue/stats", a.handleQueueStats).Methods(http.MethodGet)
	r.HandleFunc("/api/queue/units", a.handleQueueUnits).Methods(http.MethodGet)
	return r
}

// Start begins serving. It blocks until the listener fails or Stop is
// called.
func (a *Admin) Start() error {
	a.logger.Info("admin server listening", "addr", a.config.ListenAddr)
	if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (a *Admin) Stop(ctx context.Context) error {
	return a.httpSrv.Shutdown(ctx)
}

func (a *Admin) rateLimitMiddleware() mux.MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(a.config.RateLimit), a.config.RateBurst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Admin) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if a.healthy != nil && !a.healthy() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (a *Admin) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if a.queue == nil {
		http.Error(w, "queue introspection unavailable", http.StatusNotFound)
		return
	}
	stats := a.queue.Stats()
	out := make(map[string]int, len(stats))
	for state, n := range stats {
		out[string(state)] = n
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Admin) handleQueueUnits(w http.ResponseWriter, r *http.Request) {
	if a.queue == nil {
		http.Error(w, "queue introspection unavailable", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a.queue.Snapshot())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
