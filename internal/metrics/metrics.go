// Package metrics provides Prometheus instrumentation for the evaluation
// engine and its operational surfaces.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts evaluated operations by kind and outcome.
	// Outcome is "applied" or the failure kind (validation, invariant,
	// internal).
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaind_operations_total",
		Help: "Operations evaluated, by operation and outcome",
	}, []string{"operation", "outcome"})

	// OperationDuration tracks end-to-end evaluate+apply latency.
	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chaind_operation_duration_seconds",
		Help:    "Operation evaluation and apply latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// FillsTotal counts executed fills, partitioned by order kind.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaind_fills_total",
		Help: "Order fills executed",
	}, []string{"kind"})

	// MarginCallsTotal counts margin call executions.
	MarginCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chaind_margin_calls_total",
		Help: "Margin calls executed against standing liquidity",
	})

	// BlackSwansTotal counts global settlement events.
	BlackSwansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chaind_black_swans_total",
		Help: "Black swan events resulting in global settlement",
	})

	// SnapshotDuration tracks state snapshot save/load latency by backend.
	SnapshotDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chaind_snapshot_duration_seconds",
		Help:    "State snapshot persistence latency in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
	}, []string{"backend", "op"})

	// WebSocketClients tracks connected event-stream subscribers.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chaind_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chaind_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chaind_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
