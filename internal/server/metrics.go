package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	analyses      *prometheus.CounterVec
	artifactBytes prometheus.Histogram
	symbols       prometheus.Histogram
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sizemap",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sizemap",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sizemap",
			Name:      "analyses_total",
			Help:      "Artifact analyses by container format and result.",
		}, []string{"format", "result"}),
		artifactBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sizemap",
			Name:      "artifact_bytes",
			Help:      "Size of analyzed artifacts.",
			Buckets:   prometheus.ExponentialBuckets(1<<10, 4, 10),
		}),
		symbols: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sizemap",
			Name:      "artifact_symbols",
			Help:      "Defined symbols per analyzed artifact.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		}),
	}
	m.registry.MustRegister(
		m.requests, m.duration, m.analyses, m.artifactBytes, m.symbols,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveAnalysis records one analysis outcome.
func (m *Metrics) ObserveAnalysis(format string, bytes, symbols int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.analyses.WithLabelValues(format, result).Inc()
	if err == nil {
		m.artifactBytes.Observe(float64(bytes))
		m.symbols.Observe(float64(symbols))
	}
}

// Middleware counts requests by their chi route pattern, so path
// parameters do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
