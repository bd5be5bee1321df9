// Package metrics provides Prometheus instrumentation for the issuance engine.
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
	// OperationsTotal counts committed ledger operations, partitioned by kind.
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dsc_operations_total",
		Help: "Total number of committed ledger operations",
	}, []string{"op"})

	// HealthGateRejections counts operations rejected by the health-factor gate.
	HealthGateRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsc_health_gate_rejections_total",
		Help: "Operations rejected for breaking the minimum health factor",
	})

	// LiquidationsTotal counts successful liquidations.
	LiquidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsc_liquidations_total",
		Help: "Total number of successful liquidations",
	})

	// OracleFailures counts operations that failed on a stale or missing quote.
	OracleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dsc_oracle_failures_total",
		Help: "Operations failed because a price feed was unavailable or stale",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dsc_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dsc_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dsc_http_request_duration_seconds",
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
