// Package telemetry exposes Prometheus metrics for retrieval calls and the HTTP server.
// Every RetrievalMetrics owns a private registry, so tests and multiple servers
// in one process never collide on collector registration.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbretrieve"

// Retrieval statuses recorded on requests_total.
const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// RetrievalMetrics records retrieval outcomes, backend calls and HTTP traffic.
type RetrievalMetrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbacksTotal  *prometheus.CounterVec
	resultCount     *prometheus.HistogramVec
	alpha           *prometheus.HistogramVec
	recoveredTotal  *prometheus.CounterVec
	backendTotal    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec

	httpTotal    *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// NewRetrievalMetrics creates and registers all collectors.
func NewRetrievalMetrics() *RetrievalMetrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total retrieval calls by mode, backend used and status.",
		},
		[]string{"mode", "backend_used", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "request_duration_seconds",
			Help:      "Retrieval call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "fallbacks_total",
			Help:      "Retrieval calls answered by the secondary backend.",
		},
		[]string{"mode"},
	)
	resultCount := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "results",
			Help:      "Number of fused results returned per call.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
		[]string{"mode"},
	)
	alpha := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fusion",
			Name:      "alpha",
			Help:      "Vector weight used for fusion, by how it was chosen.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"source"},
	)
	recoveredTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "recovered_errors_total",
			Help:      "Errors absorbed without failing the call, by error code.",
		},
		[]string{"code"},
	)
	backendTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "calls_total",
			Help:      "Backend search calls by backend and result.",
		},
		[]string{"backend", "result"},
	)
	backendDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "call_duration_seconds",
			Help:      "Backend search call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
	httpTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	httpInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)

	registry.MustRegister(
		requestsTotal, requestDuration, fallbacksTotal, resultCount, alpha,
		recoveredTotal, backendTotal, backendDuration,
		httpTotal, httpDuration, httpInFlight,
	)

	return &RetrievalMetrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		fallbacksTotal:  fallbacksTotal,
		resultCount:     resultCount,
		alpha:           alpha,
		recoveredTotal:  recoveredTotal,
		backendTotal:    backendTotal,
		backendDuration: backendDuration,
		httpTotal:       httpTotal,
		httpDuration:    httpDuration,
		httpInFlight:    httpInFlight,
	}
}

// Registry returns the private registry holding every collector.
func (m *RetrievalMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *RetrievalMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRetrieval records one finished retrieval call.
func (m *RetrievalMetrics) ObserveRetrieval(mode, backendUsed string, results int, fallback, failed bool, elapsed time.Duration) {
	status := StatusOK
	switch {
	case failed:
		status = StatusFailed
	case results == 0:
		status = StatusEmpty
	}

	m.requestsTotal.WithLabelValues(mode, backendUsed, status).Inc()
	m.requestDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if fallback {
		m.fallbacksTotal.WithLabelValues(mode).Inc()
	}
	if !failed {
		m.resultCount.WithLabelValues(mode).Observe(float64(results))
	}
}

// ObserveAlpha records the fusion weight and how it was chosen.
func (m *RetrievalMetrics) ObserveAlpha(source string, alpha float64) {
	m.alpha.WithLabelValues(source).Observe(alpha)
}

// ObserveRecovered records an error absorbed by fallback or skipping.
func (m *RetrievalMetrics) ObserveRecovered(code string) {
	if code == "" {
		code = "unknown"
	}
	m.recoveredTotal.WithLabelValues(code).Inc()
}

// ObserveBackend records one backend call. result is "ok", "empty" or an error kind.
func (m *RetrievalMetrics) ObserveBackend(backend, result string, elapsed time.Duration) {
	m.backendTotal.WithLabelValues(backend, result).Inc()
	m.backendDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// Middleware instruments an HTTP handler. path is the route label so that
// arbitrary request paths cannot explode label cardinality.
func (m *RetrievalMetrics) Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)

		m.httpTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(started).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
