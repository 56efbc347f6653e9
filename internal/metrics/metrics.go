// Package metrics provides Prometheus instrumentation for the order engine.
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
	// SignalsTotal counts incoming signals, partitioned by direction.
	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderengine_signals_total",
		Help: "Total number of trading signals received",
	}, []string{"direction"})

	// RejectionsTotal counts validation rejections by reason kind.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderengine_rejections_total",
		Help: "Signals rejected by the compliance validator",
	}, []string{"reason"})

	// OrdersExecutedTotal counts orders submitted to the exchange.
	OrdersExecutedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderengine_orders_executed_total",
		Help: "Validated orders successfully submitted to the exchange",
	}, []string{"market", "side"})

	// ExecutionFailures counts accepted orders the exchange refused.
	ExecutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderengine_execution_failures_total",
		Help: "Accepted orders that failed at exchange submission",
	})

	// LeverageWarnings counts failed best-effort leverage changes.
	LeverageWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orderengine_leverage_warnings_total",
		Help: "Leverage changes that failed without rejecting the order",
	})

	// ValidationLatency tracks end-to-end validation duration by market.
	ValidationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderengine_validation_latency_seconds",
		Help:    "Signal validation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"market"})

	// WebSocketClients tracks connected event-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "orderengine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orderengine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orderengine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
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

		// Use the raw path for the label; the route surface is small.
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
