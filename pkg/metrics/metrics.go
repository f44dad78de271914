// Package metrics exposes Prometheus collectors for the resilience layer.
// Pool, cache, and scheduler instances own their own counters (so multiple
// instances can coexist in tests without cross-contamination); the
// collectors here are the process-wide export surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolConnections tracks connections per pool by state.
	// Labels: pool (instance name), state (in_use/available/stale)
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ragify_pool_connections",
			Help: "Number of pooled connections by state",
		},
		[]string{"pool", "state"},
	)

	// PoolAcquireWait tracks how long callers waited for a connection
	PoolAcquireWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragify_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for a pooled connection",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"pool"},
	)

	// PoolTimeouts counts acquisitions that failed with a pool timeout
	PoolTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragify_pool_timeouts_total",
			Help: "Total connection acquisition timeouts",
		},
		[]string{"pool"},
	)

	// CacheHits counts cache hits per cache instance
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragify_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses counts cache misses per cache instance
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragify_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache"},
	)

	// CacheEntries tracks the current number of cached entries
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ragify_cache_entries",
			Help: "Current number of cache entries",
		},
		[]string{"cache"},
	)

	// BatchesExecuted counts executed query batches by mode.
	// Labels: source, mode (parallel/sequential)
	BatchesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragify_batches_executed_total",
			Help: "Total query batches executed",
		},
		[]string{"source", "mode"},
	)

	// BatchRetries counts batch retry attempts
	BatchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragify_batch_retries_total",
			Help: "Total batch retry attempts",
		},
		[]string{"source"},
	)

	// RateLimitWait tracks rate-limiter imposed waits
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragify_rate_limit_wait_seconds",
			Help:    "Time callers were paused by the rate limiter",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"source"},
	)
)

// Timer measures operation durations.
type Timer struct {
	start time.Time
}

// NewTimer starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
