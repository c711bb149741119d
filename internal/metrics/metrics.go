// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal               *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	entriesTotal               *prometheus.CounterVec
	cyclesTotal                prometheus.Counter
	cycleDurationSeconds       prometheus.Histogram
	uplinkChunkFailuresTotal   prometheus.Counter
	cursorDepth                *prometheus.GaugeVec
	proxyPoolDescriptors       *prometheus.GaugeVec
	dedupSize                  prometheus.Gauge
	entriesPerMinute           prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetches_total",
				Help: "Total number of listing page fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of listing fetch latencies, labeled by outcome.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
			},
			[]string{"outcome"},
		)

		entriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_entries_total",
				Help: "Total number of entries, labeled by pipeline stage (fetched, sent, added).",
			},
			[]string{"stage"},
		)

		cyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_cycles_total",
				Help: "Total number of completed fetch cycles.",
			},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_cycle_duration_seconds",
				Help:    "Histogram of fetch cycle durations.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
		)

		uplinkChunkFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_uplink_chunk_failures_total",
				Help: "Total number of uplink chunks dropped after a failed post.",
			},
		)

		cursorDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_cursor_depth",
				Help: "Number of stored continuation cursors, labeled by direction.",
			},
			[]string{"direction"},
		)

		proxyPoolDescriptors = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_proxy_pool_descriptors",
				Help: "Number of proxy descriptors in the pool, labeled by state.",
			},
			[]string{"state"},
		)

		dedupSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_dedup_size",
				Help: "Number of identifiers held in the dedup window.",
			},
		)

		entriesPerMinute = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_entries_per_minute",
				Help: "Unique entries forwarded during the last full minute.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of pacing waits before listing requests.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"scope"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one listing fetch.
func ObserveFetch(outcome string, duration time.Duration) {
	fetchesTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
	}
}

// AddEntries adds n to the counter for a pipeline stage.
func AddEntries(stage string, n int) {
	if n > 0 {
		entriesTotal.WithLabelValues(stage).Add(float64(n))
	}
}

// ObserveCycle records a completed cycle.
func ObserveCycle(duration time.Duration) {
	cyclesTotal.Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// AddChunkFailures counts dropped uplink chunks.
func AddChunkFailures(n int) {
	if n > 0 {
		uplinkChunkFailuresTotal.Add(float64(n))
	}
}

// SetCursorDepth sets the stored cursor count for a direction.
func SetCursorDepth(direction string, depth int) {
	cursorDepth.WithLabelValues(direction).Set(float64(depth))
}

// SetProxyPool sets the descriptor count for a pool state.
func SetProxyPool(state string, n int) {
	proxyPoolDescriptors.WithLabelValues(state).Set(float64(n))
}

// SetDedupSize sets the dedup window size.
func SetDedupSize(n int) {
	dedupSize.Set(float64(n))
}

// SetEntriesPerMinute sets the last per-minute forwarding rate.
func SetEntriesPerMinute(rate float64) {
	entriesPerMinute.Set(rate)
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(scope string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(scope).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
