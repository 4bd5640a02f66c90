package healthprobe

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func serve(t *testing.T, handler http.HandlerFunc) (int, HealthResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec.Code, resp
}

func TestNew(t *testing.T) {
	hc := New(time.Minute)

	if time.Since(hc.startTime) > time.Second {
		t.Errorf("start time is too old: %v", hc.startTime)
	}
	if hc.ready.Load() {
		t.Error("HealthChecker should not be ready by default")
	}
	if hc.last() != nil {
		t.Error("no cycle should be recorded by default")
	}
}

func TestHealth_AlwaysReturnsOK(t *testing.T) {
	hc := New(time.Minute)

	for _, ready := range []bool{false, true} {
		hc.SetReady(ready)
		code, resp := serve(t, hc.Health())
		if code != http.StatusOK {
			t.Errorf("ready=%v: status = %d, want 200", ready, code)
		}
		if resp.Status != "healthy" {
			t.Errorf("ready=%v: status field = %q", ready, resp.Status)
		}
		if resp.Uptime == "" {
			t.Error("uptime should be set")
		}
	}
}

func TestHealth_ReportsLastCycle(t *testing.T) {
	hc := New(time.Minute)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hc.MarkCycle(at)

	_, resp := serve(t, hc.Health())
	if resp.LastCycle == nil || !resp.LastCycle.Equal(at) {
		t.Errorf("last cycle = %v, want %v", resp.LastCycle, at)
	}
}

func TestReady(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		ready       bool
		maxCycleAge time.Duration
		lastCycle   time.Time
		wantCode    int
		wantStatus  string
	}{
		{name: "starting", ready: false, maxCycleAge: time.Minute, wantCode: http.StatusServiceUnavailable, wantStatus: "not_ready"},
		{name: "ready before first cycle", ready: true, maxCycleAge: time.Minute, wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "recent cycle", ready: true, maxCycleAge: time.Minute, lastCycle: now.Add(-30 * time.Second), wantCode: http.StatusOK, wantStatus: "ready"},
		{name: "stalled loop", ready: true, maxCycleAge: time.Minute, lastCycle: now.Add(-2 * time.Minute), wantCode: http.StatusServiceUnavailable, wantStatus: "stalled"},
		{name: "check disabled", ready: true, lastCycle: now.Add(-time.Hour), wantCode: http.StatusOK, wantStatus: "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := New(tt.maxCycleAge)
			hc.now = func() time.Time { return now }
			hc.SetReady(tt.ready)
			if !tt.lastCycle.IsZero() {
				hc.MarkCycle(tt.lastCycle)
			}

			code, resp := serve(t, hc.Ready())
			if code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantStatus)
			}
			if tt.wantStatus == "stalled" && resp.Message != "no cycle finished for 2m0s" {
				t.Errorf("message = %q", resp.Message)
			}
		})
	}
}

func TestReady_StateChanges(t *testing.T) {
	hc := New(0)

	for _, step := range []struct {
		ready bool
		want  int
	}{
		{false, http.StatusServiceUnavailable},
		{true, http.StatusOK},
		{false, http.StatusServiceUnavailable},
		{true, http.StatusOK},
	} {
		hc.SetReady(step.ready)
		code, _ := serve(t, hc.Ready())
		if code != step.want {
			t.Errorf("ready=%v: status = %d, want %d", step.ready, code, step.want)
		}
	}
}

func TestHealthChecker_ConcurrentAccess(t *testing.T) {
	hc := New(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			hc.SetReady(i%2 == 0)
		}(i)
		go func() {
			defer wg.Done()
			hc.MarkCycle(time.Now())
		}()
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			hc.Ready()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		}()
	}
	wg.Wait()
}
