package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SystemStatus represents the overall health state reported over HTTP.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"

	// A worker that has not completed a cycle in this long is degraded even
	// when no cycle errored; it is probably stuck on a slow upstream.
	staleCycleThreshold = 2 * time.Minute
)

// HealthReport is the /health/detailed payload.
type HealthReport struct {
	Status SystemStatus `json:"status"`
	Worker Stats        `json:"worker"`
}

// HealthServer exposes /health, /health/detailed and /metrics for the worker.
type HealthServer struct {
	worker *Worker
	server *http.Server
}

// NewHealthServer creates the HTTP server. It does not start listening.
func NewHealthServer(worker *Worker, port int) *HealthServer {
	mux := http.NewServeMux()
	s := &HealthServer{
		worker: worker,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/detailed", s.handleDetailed)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *HealthServer) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *HealthServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HealthServer) report() HealthReport {
	stats := s.worker.Stats()
	status := StatusHealthy

	switch {
	case stats.ConsecutiveErrors >= s.worker.cfg.MaxConsecutiveErrors:
		status = StatusCritical
	case stats.ConsecutiveErrors > 0:
		status = StatusDegraded
	case !stats.LastCycleAt.IsZero() && time.Since(stats.LastCycleAt) > staleCycleThreshold:
		status = StatusDegraded
	}

	return HealthReport{Status: status, Worker: stats}
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.report()
	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(map[string]string{"status": string(report.Status)})
}

func (s *HealthServer) handleDetailed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.report())
}
