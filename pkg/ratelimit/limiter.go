// Package ratelimit throttles outbound calls to a minimum inter-call
// interval and a rolling per-minute cap, and derives per-call request
// timeouts from recently observed latency.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/metrics"
)

// Limiter enforces a minimum interval between calls and a per-minute
// budget. One limiter guards one source instance.
type Limiter struct {
	name   string
	cfg    config.RateLimitConfig
	logger *zap.Logger

	mu          sync.Mutex
	lastCall    time.Time
	windowStart time.Time
	windowCount int

	allowed int64
	delayed int64
}

// LimiterStats reports limiter activity and current window usage.
type LimiterStats struct {
	Allowed     int64 `json:"allowed"`
	Delayed     int64 `json:"delayed"`
	WindowCount int   `json:"window_count"`
}

// NewLimiter creates a limiter for one source.
func NewLimiter(name string, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	return &Limiter{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "rate_limiter"), zap.String("source", name)),
	}
}

// CheckRateLimit returns how long the caller must pause before the next
// outbound call: the remainder of the minimum inter-call interval, or, when
// the minute budget is exhausted, the time to the next minute boundary,
// whichever is longer. Zero means the call may proceed immediately.
func (l *Limiter) CheckRateLimit() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.requiredWaitLocked(time.Now())
}

func (l *Limiter) requiredWaitLocked(now time.Time) time.Duration {
	var wait time.Duration

	if l.cfg.MinInterval > 0 && !l.lastCall.IsZero() {
		if since := now.Sub(l.lastCall); since < l.cfg.MinInterval {
			wait = l.cfg.MinInterval - since
		}
	}

	if l.cfg.MaxRequestsPerMinute > 0 {
		l.rollWindowLocked(now)
		if l.windowCount >= l.cfg.MaxRequestsPerMinute {
			toBoundary := l.windowStart.Add(time.Minute).Sub(now)
			if toBoundary > wait {
				wait = toBoundary
			}
		}
	}

	return wait
}

// rollWindowLocked resets the per-minute window once it has elapsed.
func (l *Limiter) rollWindowLocked(now time.Time) {
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= time.Minute {
		l.windowStart = now
		l.windowCount = 0
	}
}

// RecordRequest marks an outbound call as issued. Callers invoke it after
// the wait returned by CheckRateLimit has elapsed.
func (l *Limiter) RecordRequest() {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindowLocked(now)
	l.lastCall = now
	l.windowCount++
	l.allowed++
}

// Wait pauses for the computed duration (cancellable by ctx) and records
// the call. This is the single gate a source passes before touching the
// network.
func (l *Limiter) Wait(ctx context.Context) error {
	wait := l.CheckRateLimit()
	if wait > 0 {
		l.mu.Lock()
		l.delayed++
		l.mu.Unlock()

		metrics.RateLimitWait.WithLabelValues(l.name).Observe(wait.Seconds())
		l.logger.Debug("rate limited", zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.RecordRequest()
	return nil
}

// Stats returns limiter counters.
func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollWindowLocked(time.Now())
	return LimiterStats{
		Allowed:     l.allowed,
		Delayed:     l.delayed,
		WindowCount: l.windowCount,
	}
}
