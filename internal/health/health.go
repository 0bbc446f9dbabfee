// Package health provides the read-only HTTP surface over the session
// registry.
//
// The package exposes five endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /tts/dedicated/health  — aggregate engine health plus per-session
//     awareness snapshots.
//   - /tts/dedicated/status  — cheap status probe with a server-side
//     snapshot timeout.
//   - /tts/dedicated/metrics — session allocation counters as JSON.
//
// Responses are JSON objects; the dedicated endpoints carry a Unix
// "timestamp" field so callers can detect stale responses.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/voxline/voxgate/internal/session"
)

const (
	// checkTimeout is the maximum time a single readiness check may take
	// before the context is cancelled.
	checkTimeout = 5 * time.Second

	// statusTimeout bounds the registry snapshot for the status endpoint.
	// The endpoint is polled aggressively by load balancers; it must
	// answer even when sessions are wedged.
	statusTimeout = 1 * time.Second
)

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "database", "recognizer"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthResult is the JSON response body for /tts/dedicated/health.
type healthResult struct {
	Status           string             `json:"status"`
	ActiveSessions   int                `json:"active_sessions"`
	SessionAwareness []session.Snapshot `json:"session_awareness"`
	Timestamp        *float64           `json:"timestamp"`
}

// statusResult is the JSON response body for /tts/dedicated/status.
type statusResult struct {
	Status    string   `json:"status"`
	Timestamp *float64 `json:"timestamp"`
}

// metricsResult is the JSON response body for /tts/dedicated/metrics.
type metricsResult struct {
	ActiveSessions    int64   `json:"active_sessions"`
	AllocationsTotal  int64   `json:"allocations_total"`
	AllocationsCached int64   `json:"allocations_cached"`
	AllocationsNew    int64   `json:"allocations_new"`
	Timestamp         float64 `json:"timestamp"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	registry *session.Registry
	checkers []Checker
}

// New creates a [Handler] over the given registry. The checkers are
// evaluated sequentially in the order provided.
func New(registry *session.Registry, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{registry: registry, checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, failed := h.runChecks(r.Context())

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if failed > 0 {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// DedicatedHealth reports aggregate engine health with per-session
// snapshots. All checkers passing is "healthy", some failing is "degraded",
// all failing (with at least one registered) is "unhealthy".
func (h *Handler) DedicatedHealth(w http.ResponseWriter, r *http.Request) {
	_, failed := h.runChecks(r.Context())

	status := "healthy"
	switch {
	case len(h.checkers) > 0 && failed == len(h.checkers):
		status = "unhealthy"
	case failed > 0:
		status = "degraded"
	}

	snaps := h.registry.Snapshots()
	writeJSON(w, http.StatusOK, healthResult{
		Status:           status,
		ActiveSessions:   len(snaps),
		SessionAwareness: snaps,
		Timestamp:        now(),
	})
}

// DedicatedStatus answers a cheap liveness question about the registry. The
// snapshot runs on its own goroutine bounded by [statusTimeout]; a wedged
// session map yields "timeout" instead of a hung response.
func (h *Handler) DedicatedStatus(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.registry.Count()
	}()

	timer := time.NewTimer(statusTimeout)
	defer timer.Stop()

	select {
	case <-done:
		writeJSON(w, http.StatusOK, statusResult{Status: "ok", Timestamp: now()})
	case <-timer.C:
		writeJSON(w, http.StatusOK, statusResult{Status: "timeout", Timestamp: now()})
	case <-r.Context().Done():
		writeJSON(w, http.StatusServiceUnavailable, statusResult{Status: "error", Timestamp: now()})
	}
}

// DedicatedMetrics reports session allocation counters as JSON.
func (h *Handler) DedicatedMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := h.registry.Stats()
	writeJSON(w, http.StatusOK, metricsResult{
		ActiveSessions:    stats.ActiveSessions,
		AllocationsTotal:  stats.AllocationsTotal,
		AllocationsCached: stats.AllocationsCached,
		AllocationsNew:    stats.AllocationsNew,
		Timestamp:         float64(time.Now().UnixMilli()) / 1000,
	})
}

// Register adds all health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /tts/dedicated/health", h.DedicatedHealth)
	mux.HandleFunc("GET /tts/dedicated/status", h.DedicatedStatus)
	mux.HandleFunc("GET /tts/dedicated/metrics", h.DedicatedMetrics)
}

// runChecks evaluates every checker and returns the per-check results and
// the number of failures.
func (h *Handler) runChecks(parent context.Context) (map[string]string, int) {
	checks := make(map[string]string, len(h.checkers))
	failed := 0

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(parent, checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			failed++
		} else {
			checks[c.Name] = "ok"
		}
	}
	return checks, failed
}

// now returns the current Unix time in seconds as a pointer, matching the
// nullable timestamp field of the dedicated endpoints.
func now() *float64 {
	ts := float64(time.Now().UnixMilli()) / 1000
	return &ts
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
