package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"optionsurface/pkg/logger"
)

// Checker is a dependency that can report its own health. The Postgres,
// ClickHouse and Redis clients satisfy it.
type Checker interface {
	Health(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) error

// Health implements Checker
func (f CheckerFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	startTime   time.Time
	serviceName string
	version     string

	mu       sync.RWMutex
	checkers map[string]Checker
}

// New creates a new health check handler with no registered checks
func New(log *logger.Logger, serviceName, version string) *Handler {
	return &Handler{
		log:         log.With("component", "health"),
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
		checkers:    make(map[string]Checker),
	}
}

// Register adds a named check. Only enabled backends are registered, so an
// unused database never fails readiness.
func (h *Handler) Register(name string, c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = c
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if service is running
// Used by Kubernetes liveness probe
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness returns 503 unless every registered check passes
// Used by Kubernetes readiness probe
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks, healthy := h.runChecks(ctx)
	status := h.status(checks)

	code := http.StatusOK
	if healthy < len(checks) {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth returns detailed health status. Some failing checks report
// degraded with 200; all failing reports unhealthy with 503.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks, healthy := h.runChecks(ctx)
	status := h.status(checks)

	code := http.StatusOK
	switch {
	case len(checks) > 0 && healthy == 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < len(checks):
		status.Status = "degraded"
	}
	writeJSON(w, code, status)
}

func (h *Handler) status(checks map[string]ComponentHealth) HealthStatus {
	return HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    checks,
	}
}

func (h *Handler) runChecks(ctx context.Context) (map[string]ComponentHealth, int) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	checks := make(map[string]ComponentHealth, len(names))
	healthy := 0
	for _, name := range names {
		h.mu.RLock()
		c := h.checkers[name]
		h.mu.RUnlock()

		res := h.check(ctx, name, c)
		checks[name] = res
		if res.Status == "healthy" {
			healthy++
		}
	}
	return checks, healthy
}

func (h *Handler) check(ctx context.Context, name string, c Checker) ComponentHealth {
	start := time.Now()
	err := c.Health(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "check", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{
		Status:       "healthy",
		ResponseTime: elapsed.String(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
