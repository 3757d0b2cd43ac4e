// Package health provides health check endpoints for the view syncer.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is a dependency whose reachability decides readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck manages health check functionality.
type HealthCheck struct {
	deps          map[string]Pinger
	logger        *zap.Logger
	mu            sync.RWMutex
	ready         bool
	lastCheck     time.Time
	checkInterval time.Duration
	timeout       time.Duration
}

// NewHealthCheck creates a new HealthCheck instance. Nil dependencies are
// skipped, so an unconfigured cache does not need a placeholder.
func NewHealthCheck(deps map[string]Pinger, logger *zap.Logger) *HealthCheck {
	checked := make(map[string]Pinger, len(deps))
	for name, dep := range deps {
		if dep != nil {
			checked[name] = dep
		}
	}
	return &HealthCheck{
		deps:          checked,
		logger:        logger,
		checkInterval: 5 * time.Second,
		timeout:       5 * time.Second,
	}
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// LivenessHandler handles GET /health requests.
// Returns 200 OK if the process is running.
func (hc *HealthCheck) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready requests.
// Returns 200 OK if every dependency answers a ping.
func (hc *HealthCheck) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
	defer cancel()

	checks, err := hc.check(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{
			Status: "not_ready",
			Checks: checks,
			Error:  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, ReadinessResponse{
		Status: "ready",
		Checks: checks,
	})
}

// check pings every dependency and records the outcome
func (hc *HealthCheck) check(ctx context.Context) (map[string]string, error) {
	checks := make(map[string]string, len(hc.deps))
	var firstErr error
	for name, dep := range hc.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "unhealthy"
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		checks[name] = "healthy"
	}

	hc.mu.Lock()
	hc.ready = firstErr == nil
	hc.lastCheck = time.Now()
	hc.mu.Unlock()

	return checks, firstErr
}

// Run performs periodic health checks until ctx is cancelled.
func (hc *HealthCheck) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
			if _, err := hc.check(checkCtx); err != nil {
				hc.logger.Warn("health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// IsReady returns the readiness status of the last check.
func (hc *HealthCheck) IsReady() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.ready
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
