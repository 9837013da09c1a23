// Package metrics defines the Prometheus metric collectors used across the
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	CacheHitsTotal    *prometheus.CounterVec
	CacheMissesTotal  *prometheus.CounterVec
	CacheBytesStored  prometheus.Counter
	CacheInvalidated  prometheus.Counter
	CacheCorruptTotal prometheus.Counter

	RankingUpdatesTotal *prometheus.CounterVec
	ObservationsTotal   prometheus.Counter
	TrendingIncrements  prometheus.Counter
	SnapshotsTotal      *prometheus.CounterVec
}

// New creates all collectors and registers them on the default registry.
func New() *Metrics {
	m := newCollectors()
	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheBytesStored,
		m.CacheInvalidated,
		m.CacheCorruptTotal,
		m.RankingUpdatesTotal,
		m.ObservationsTotal,
		m.TrendingIncrements,
		m.SnapshotsTotal,
	)
	return m
}

// NewUnregistered creates all collectors without registering them. Tests
// use it so multiple instances can coexist in one process.
func NewUnregistered() *Metrics {
	return newCollectors()
}

func newCollectors() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total cache hits by namespace.",
			},
			[]string{"namespace"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total cache misses by namespace.",
			},
			[]string{"namespace"},
		),
		CacheBytesStored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_stored_bytes_total",
				Help: "Cumulative size of serialized payloads written to the cache.",
			},
		),
		CacheInvalidated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_invalidated_keys_total",
				Help: "Total cache keys removed by pattern invalidation.",
			},
		),
		CacheCorruptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_corrupt_payloads_total",
				Help: "Total cache payloads that failed to decode and were treated as misses.",
			},
		),
		RankingUpdatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ranking_index_updates_total",
				Help: "Total ordered-index score updates by index type and status.",
			},
			[]string{"index_type", "status"},
		),
		ObservationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "observations_recorded_total",
				Help: "Total review observations applied to venue ratings.",
			},
		),
		TrendingIncrements: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "trending_increments_total",
				Help: "Total increments applied to the trending window.",
			},
		),
		SnapshotsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stats_snapshots_total",
				Help: "Total statistics snapshots persisted, by status.",
			},
			[]string{"status"},
		),
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
