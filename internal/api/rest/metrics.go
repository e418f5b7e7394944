package rest

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the HTTP surface. Domain metrics (assessments,
// limits, alerts) are exported over OTLP by the metrics registry; these
// cover only what the scrape endpoint needs for request-level SLOs.

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskengine",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskengine",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "handler"},
	)

	wsSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "riskengine",
			Subsystem: "alerts",
			Name:      "websocket_subscribers",
			Help:      "Connected alert stream subscribers",
		},
	)

	dbConnectionPoolSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "connections",
			Help:      "Current number of connections in the pool",
		},
		[]string{"state"},
	)

	dbConnectionPoolMax = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pgxpool",
			Name:      "max_conns",
			Help:      "Maximum number of connections in the pool",
		},
	)
)

// MetricsHandler returns the Prometheus scrape handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// InstrumentHandler wraps a handler with request count and latency metrics
func InstrumentHandler(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)

		httpRequestsTotal.WithLabelValues(r.Method, handlerName, statusCodeClass(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, handlerName).Observe(time.Since(start).Seconds())
	}
}

func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// SetWebSocketSubscribers updates the alert stream subscriber gauge
func SetWebSocketSubscribers(count int) {
	wsSubscribers.Set(float64(count))
}

// UpdateDBPoolMetrics publishes connection pool state for scraping
func UpdateDBPoolMetrics(acquired, idle, total, max int64) {
	dbConnectionPoolSize.WithLabelValues("acquired").Set(float64(acquired))
	dbConnectionPoolSize.WithLabelValues("idle").Set(float64(idle))
	dbConnectionPoolSize.WithLabelValues("total").Set(float64(total))
	dbConnectionPoolMax.Set(float64(max))
}
