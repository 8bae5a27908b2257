// Package observability exposes Prometheus metrics for the HTTP surface and
// the authorization cache.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	loginBlocks     prometheus.Counter
	rateLimited     prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeep_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeep_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeep_cache_lookups_total",
		Help: "Authorization cache lookups by outcome (hit, miss, bypass).",
	}, []string{"outcome"})
	loginBlocks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_login_throttle_blocks_total",
		Help: "Login attempts rejected by the failed-attempt throttle.",
	})
	rateLimited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gatekeep_rate_limited_total",
		Help: "Requests rejected by the per-identifier rate limiter.",
	})
	registry.MustRegister(requests, duration, cacheLookups, loginBlocks, rateLimited)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		cacheLookups:    cacheLookups,
		loginBlocks:     loginBlocks,
		rateLimited:     rateLimited,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// CacheLookup records one authorization cache lookup outcome.
func (m *Metrics) CacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// LoginBlocked records one login rejected by the throttle.
func (m *Metrics) LoginBlocked() {
	if m == nil {
		return
	}
	m.loginBlocks.Inc()
}

// RateLimited records one request rejected by the rate limiter.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
