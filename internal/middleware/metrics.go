package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application counters: the HTTP surface plus the report
// pipeline (a run counts as running from submission until it reaches a
// terminal state).
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	RunsTotal          uint64
	RunsRunning        uint64
	RunsDegraded       uint64
	RunsFailed         uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// IncrementRuns counts a submitted pipeline run.
func IncrementRuns() {
	atomic.AddUint64(&globalMetrics.RunsTotal, 1)
}

func IncrementRunsRunning() {
	atomic.AddUint64(&globalMetrics.RunsRunning, 1)
}

func DecrementRunsRunning() {
	atomic.AddUint64(&globalMetrics.RunsRunning, ^uint64(0))
}

// IncrementRunsDegraded counts a run that finished with partial output.
func IncrementRunsDegraded() {
	atomic.AddUint64(&globalMetrics.RunsDegraded, 1)
}

func IncrementRunsFailed() {
	atomic.AddUint64(&globalMetrics.RunsFailed, 1)
}

// GetMetrics returns current counters plus process stats.
func GetMetrics() map[string]any {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]any{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"runs_total":           atomic.LoadUint64(&globalMetrics.RunsTotal),
		"runs_running":         atomic.LoadUint64(&globalMetrics.RunsRunning),
		"runs_degraded":        atomic.LoadUint64(&globalMetrics.RunsDegraded),
		"runs_failed":          atomic.LoadUint64(&globalMetrics.RunsFailed),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]any{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
