package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trace_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	eventsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_events_ingested_total",
		Help: "Crawl events accepted and persisted, by ingestion channel.",
	}, []string{"channel"})

	eventsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_events_rejected_total",
		Help: "Individual event items dropped during normalization.",
	}, []string{"channel"})

	authFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_auth_failures_total",
		Help: "Rejected ingestion requests by authentication failure mode.",
	}, []string{"reason"})

	rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_rate_limited_total",
		Help: "Requests denied by the admission controller.",
	}, []string{"channel"})

	dedupDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trace_dedup_dropped_batches_total",
		Help: "Resource update batches dropped because the tracking queue was full.",
	})

	bundlesSignedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trace_bundles_signed_total",
		Help: "Compliance bundles generated and signed.",
	})

	tenantsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trace_tenants_total",
		Help: "Number of registered tenants.",
	})

	eventsStoredTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "trace_events_stored_total",
		Help: "Crawl events currently stored across all tenants.",
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, eventsIngestedTotal,
		eventsRejectedTotal, authFailuresTotal, rateLimitedTotal,
		dedupDroppedTotal, bundlesSignedTotal, tenantsTotal, eventsStoredTotal)
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// metricsMiddleware records request metrics.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rr, r)

		dur := time.Since(start).Seconds()
		status := strconv.Itoa(rr.statusCode)
		requestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		requestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(dur)
	})
}
