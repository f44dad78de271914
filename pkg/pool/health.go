package pool

import (
	"sync/atomic"
	"time"
)

// Health status values derived from pool utilization and staleness.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Utilization above this share of capacity reports the pool as degraded;
// stale connections above half the pool report it unhealthy.
const (
	degradedUtilizationPct = 80.0
	unhealthyStaleShare    = 0.5
)

// HealthStatus is a point-in-time snapshot of pool occupancy.
type HealthStatus struct {
	Total          int     `json:"total"`
	Available      int     `json:"available"`
	InUse          int     `json:"in_use"`
	Stale          int     `json:"stale"`
	UtilizationPct float64 `json:"utilization_pct"`
	Status         string  `json:"status"`
}

// HealthStatus reports total/available/in-use/stale counts, utilization,
// and a derived healthy/degraded/unhealthy status.
func (p *Pool) HealthStatus() HealthStatus {
	now := time.Now()

	p.mu.Lock()
	total := p.created
	inUse := 0
	stale := 0
	for _, st := range p.states {
		if st.inUse {
			inUse++
		} else if now.Sub(st.lastUsed) > p.cfg.StaleThreshold {
			stale++
		}
	}
	p.mu.Unlock()

	h := HealthStatus{
		Total:     total,
		Available: total - inUse,
		InUse:     inUse,
		Stale:     stale,
		Status:    StatusHealthy,
	}
	if p.cfg.MaxConnections > 0 {
		h.UtilizationPct = float64(inUse) / float64(p.cfg.MaxConnections) * 100
	}

	switch {
	case total > 0 && float64(stale) > float64(total)*unhealthyStaleShare:
		h.Status = StatusUnhealthy
	case h.UtilizationPct >= degradedUtilizationPct:
		h.Status = StatusDegraded
	}

	return h
}

// perfCounters are the pool-owned monotonic counters. They reset only on
// an explicit ResetPerformanceMetrics call.
type perfCounters struct {
	totalQueries      atomic.Int64
	parallelQueries   atomic.Int64
	sequentialQueries atomic.Int64
	batchQueries      atomic.Int64
	timeouts          atomic.Int64
	connectionWaits   atomic.Int64
	waitTimeNanos     atomic.Int64
}

// PerformanceMetrics is a snapshot of the pool's counters.
type PerformanceMetrics struct {
	TotalQueries        int64         `json:"total_queries"`
	ParallelQueries     int64         `json:"parallel_queries"`
	SequentialQueries   int64         `json:"sequential_queries"`
	BatchQueries        int64         `json:"batch_queries"`
	Timeouts            int64         `json:"timeouts"`
	ConnectionWaits     int64         `json:"connection_waits"`
	AvgWaitTime         time.Duration `json:"avg_wait_time"`
	ParallelizationRate float64       `json:"parallelization_rate"`
}

// PerformanceMetrics returns the current counter values. The
// parallelization rate is the parallel share of all recorded queries.
func (p *Pool) PerformanceMetrics() PerformanceMetrics {
	m := PerformanceMetrics{
		TotalQueries:      p.perf.totalQueries.Load(),
		ParallelQueries:   p.perf.parallelQueries.Load(),
		SequentialQueries: p.perf.sequentialQueries.Load(),
		BatchQueries:      p.perf.batchQueries.Load(),
		Timeouts:          p.perf.timeouts.Load(),
		ConnectionWaits:   p.perf.connectionWaits.Load(),
	}

	if m.ConnectionWaits > 0 {
		m.AvgWaitTime = time.Duration(p.perf.waitTimeNanos.Load() / m.ConnectionWaits)
	}
	if m.TotalQueries > 0 {
		m.ParallelizationRate = float64(m.ParallelQueries) / float64(m.TotalQueries)
	}

	return m
}

// ResetPerformanceMetrics zeroes all counters.
func (p *Pool) ResetPerformanceMetrics() {
	p.perf.totalQueries.Store(0)
	p.perf.parallelQueries.Store(0)
	p.perf.sequentialQueries.Store(0)
	p.perf.batchQueries.Store(0)
	p.perf.timeouts.Store(0)
	p.perf.connectionWaits.Store(0)
	p.perf.waitTimeNanos.Store(0)
}

// RecordQuery counts one logical query against the pool, attributed to the
// parallel or sequential path. The scheduler calls this once per Execute.
func (p *Pool) RecordQuery(parallel bool) {
	p.perf.totalQueries.Add(1)
	if parallel {
		p.perf.parallelQueries.Add(1)
	} else {
		p.perf.sequentialQueries.Add(1)
	}
}

// RecordBatchQueries counts batch executions (attempts included).
func (p *Pool) RecordBatchQueries(n int) {
	p.perf.batchQueries.Add(int64(n))
}

func (p *Pool) recordWait(start time.Time) {
	p.perf.waitTimeNanos.Add(time.Since(start).Nanoseconds())
}
