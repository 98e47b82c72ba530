// Package http exposes the dispatcher's operational endpoints: liveness
// with live delivery counters, readiness gated on the ingest pipeline, and
// Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessChecker gates /readyz. The ingest pipeline satisfies it once the
// first strike batch has been processed.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// DeliveryTracker reports unacknowledged deliveries. Satisfied by the
// dispatch coordinator.
type DeliveryTracker interface {
	InFlight() int
}

// DeviceIndex reports how many devices the registry mirror currently holds.
// Satisfied by the spatial index.
type DeviceIndex interface {
	Len() int
}

// Server exposes /healthz, /readyz, and /metrics for the dispatcher.
type Server struct {
	httpServer *http.Server
	deliveries DeliveryTracker
	devices    DeviceIndex
	logger     *slog.Logger
}

// NewServer wires the dispatcher's operational routes. The health payload
// reports live dispatch state so a probe can distinguish an idle dispatcher
// from one sitting on a backlog of unacked deliveries.
func NewServer(addr string, ready ReadinessChecker, deliveries DeliveryTracker, devices DeviceIndex, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		deliveries: deliveries,
		devices:    devices,
		logger:     logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":               "healthy",
		"in_flight_deliveries": s.deliveries.InFlight(),
		"registered_devices":   s.devices.Len(),
	})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort health response
}
