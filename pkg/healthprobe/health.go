package healthprobe

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// HealthChecker provides health and readiness checks for the poll loop.
type HealthChecker struct {
	startTime   time.Time
	ready       atomic.Bool
	lastCycle   atomic.Int64 // unix nanoseconds, 0 before the first cycle
	maxCycleAge time.Duration
	now         func() time.Time
}

// New creates a HealthChecker. Readiness fails once no cycle has finished
// for maxCycleAge; zero disables the check.
func New(maxCycleAge time.Duration) *HealthChecker {
	return &HealthChecker{
		startTime:   time.Now(),
		maxCycleAge: maxCycleAge,
		now:         time.Now,
	}
}

// SetReady marks the application as ready to serve traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// MarkCycle records that a poll cycle finished at t.
func (h *HealthChecker) MarkCycle(t time.Time) {
	h.lastCycle.Store(t.UnixNano())
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string     `json:"status"`
	Uptime    string     `json:"uptime"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
	Message   string     `json:"message,omitempty"`
}

func (h *HealthChecker) last() *time.Time {
	ns := h.lastCycle.Load()
	if ns == 0 {
		return nil
	}
	t := time.Unix(0, ns)
	return &t
}

// Health returns an HTTP handler for liveness checks.
// Always returns 200 OK if the application is running.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "healthy",
			Uptime:    time.Since(h.startTime).String(),
			LastCycle: h.last(),
		})
	}
}

// Ready returns an HTTP handler for readiness checks.
// Returns 503 while starting or when the poll loop has stalled.
func (h *HealthChecker) Ready() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !h.ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status:  "not_ready",
				Message: "application is starting",
			})
			return
		}

		last := h.last()
		if h.maxCycleAge > 0 && last != nil {
			if age := h.now().Sub(*last); age > h.maxCycleAge {
				writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
					Status:    "stalled",
					LastCycle: last,
					Message:   fmt.Sprintf("no cycle finished for %s", age.Round(time.Second)),
				})
				return
			}
		}

		writeJSON(w, http.StatusOK, HealthResponse{
			Status:    "ready",
			Uptime:    time.Since(h.startTime).String(),
			LastCycle: last,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, resp HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
