package ratelimit

import (
	"sync/atomic"
	"time"

	"github.com/sumitnemade/ragify-go/pkg/config"
)

// AdaptiveTimeout computes a per-call request timeout from the most
// recently observed latency. The calculation is per-call, not cumulative:
// a single slow response scales only the next timeout, it never degrades
// the controller permanently.
type AdaptiveTimeout struct {
	cfg config.AdaptiveTimeoutConfig

	// lastLatency holds the most recent observation in nanoseconds;
	// zero means no observation yet.
	lastLatency atomic.Int64
}

// NewAdaptiveTimeout creates a controller from its configuration.
func NewAdaptiveTimeout(cfg config.AdaptiveTimeoutConfig) *AdaptiveTimeout {
	return &AdaptiveTimeout{cfg: cfg}
}

// CalculateTimeout derives a timeout from lastLatency. When the controller
// is disabled or no latency was observed (zero), it returns BaseTimeout
// unchanged. Latency above the quality threshold scales the base by the
// slow multiplier; latency below half the threshold scales it by the fast
// multiplier; anything in between leaves it alone. Scaled results are
// always clamped to [MinTimeout, MaxTimeout].
func (a *AdaptiveTimeout) CalculateTimeout(lastLatency time.Duration) time.Duration {
	if !a.cfg.Enabled || lastLatency <= 0 {
		return a.cfg.BaseTimeout
	}

	timeout := a.cfg.BaseTimeout
	switch {
	case lastLatency > a.cfg.NetworkQualityThreshold:
		timeout = time.Duration(float64(a.cfg.BaseTimeout) * a.cfg.SlowNetworkMultiplier)
	case lastLatency < a.cfg.NetworkQualityThreshold/2:
		timeout = time.Duration(float64(a.cfg.BaseTimeout) * a.cfg.FastNetworkMultiplier)
	}

	return a.clamp(timeout)
}

// Observe records a completed call's latency for subsequent Timeout calls.
func (a *AdaptiveTimeout) Observe(latency time.Duration) {
	if latency > 0 {
		a.lastLatency.Store(int64(latency))
	}
}

// Timeout computes the next timeout from the stored observation.
func (a *AdaptiveTimeout) Timeout() time.Duration {
	return a.CalculateTimeout(time.Duration(a.lastLatency.Load()))
}

func (a *AdaptiveTimeout) clamp(d time.Duration) time.Duration {
	if a.cfg.MinTimeout > 0 && d < a.cfg.MinTimeout {
		return a.cfg.MinTimeout
	}
	if a.cfg.MaxTimeout > 0 && d > a.cfg.MaxTimeout {
		return a.cfg.MaxTimeout
	}
	return d
}
