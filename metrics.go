package kueri

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request pipeline,
// the cache engine and the token lifecycle. All record methods are safe on a
// nil receiver so instrumentation points never need guarding.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal   *prometheus.CounterVec
	coalescedTotal *prometheus.CounterVec

	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheItems     *prometheus.GaugeVec
	cacheBytes     *prometheus.GaugeVec

	cacheRefreshTotal    *prometheus.CounterVec
	cacheRefreshFailures *prometheus.CounterVec

	tokenRefreshTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kueri_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kueri_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint", "attempt"},
		),
		coalescedTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_coalesced_requests_total",
				Help: "Requests served by joining an identical in-flight request",
			},
			[]string{"key"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"name"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"name"},
		),
		cacheEvictions: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_cache_evictions_total",
				Help: "Entries evicted by expiry sweep or capacity pressure",
			},
			[]string{"name", "reason"},
		),
		cacheItems: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kueri_cache_items",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		cacheBytes: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kueri_cache_bytes",
				Help: "Best-effort total size of cached values in bytes",
			},
			[]string{"name"},
		),
		cacheRefreshTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_cache_refresh_total",
				Help: "Cache entry refresh attempts",
			},
			[]string{"name", "outcome"},
		),
		cacheRefreshFailures: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_cache_refresh_failures_total",
				Help: "Cache refreshes that exhausted their retries",
			},
			[]string{"name"},
		),
		tokenRefreshTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_token_refresh_total",
				Help: "Bearer token refresh calls by outcome",
			},
			[]string{"outcome"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "kueri_errors_total",
				Help: "Total number of errors by kind",
			},
			[]string{"kind", "method", "endpoint"},
		),
		registry: registry,
	}
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	code := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, code, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, code, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments the in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements the in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordRetry increments the retry counter for an attempt.
func (mc *MetricsCollector) RecordRetry(method, endpoint string, attempt int) {
	if mc == nil {
		return
	}
	mc.retriesTotal.WithLabelValues(method, endpoint, strconv.Itoa(attempt)).Inc()
}

// RecordCoalesced counts a request served by an identical in-flight one.
func (mc *MetricsCollector) RecordCoalesced(key string) {
	if mc == nil {
		return
	}
	mc.coalescedTotal.WithLabelValues(key).Inc()
}

// RecordCacheHit increments the cache hit counter.
func (mc *MetricsCollector) RecordCacheHit(name string) {
	if mc == nil {
		return
	}
	mc.cacheHits.WithLabelValues(name).Inc()
}

// RecordCacheMiss increments the cache miss counter.
func (mc *MetricsCollector) RecordCacheMiss(name string) {
	if mc == nil {
		return
	}
	mc.cacheMisses.WithLabelValues(name).Inc()
}

// RecordCacheEviction counts evicted entries by reason ("expired" or
// "capacity").
func (mc *MetricsCollector) RecordCacheEviction(name, reason string, count int) {
	if mc == nil || count <= 0 {
		return
	}
	mc.cacheEvictions.WithLabelValues(name, reason).Add(float64(count))
}

// RecordCacheSize sets the item and byte gauges.
func (mc *MetricsCollector) RecordCacheSize(name string, items int, bytes int64) {
	if mc == nil {
		return
	}
	mc.cacheItems.WithLabelValues(name).Set(float64(items))
	mc.cacheBytes.WithLabelValues(name).Set(float64(bytes))
}

// RecordCacheRefresh counts one refresh attempt with its outcome
// ("success" or "retry" or "failure").
func (mc *MetricsCollector) RecordCacheRefresh(name, outcome string) {
	if mc == nil {
		return
	}
	mc.cacheRefreshTotal.WithLabelValues(name, outcome).Inc()
	if outcome == "failure" {
		mc.cacheRefreshFailures.WithLabelValues(name).Inc()
	}
}

// RecordTokenRefresh counts a token refresh call by outcome.
func (mc *MetricsCollector) RecordTokenRefresh(outcome string) {
	if mc == nil {
		return
	}
	mc.tokenRefreshTotal.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter by kind.
func (mc *MetricsCollector) RecordError(kind, method, endpoint string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.WithLabelValues(kind, method, endpoint).Inc()
}
