// Package source wires the resilience subsystems (connection pool, parallel
// query scheduler, TTL cache, rate limiter, and adaptive timeout) into one
// facade per backend. Every fetch flows through the same state machine:
// rate gate, cache check, scheduled execution, cache store.
package source

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sumitnemade/ragify-go/pkg/cache"
	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/errors"
	"github.com/sumitnemade/ragify-go/pkg/metrics"
	"github.com/sumitnemade/ragify-go/pkg/models"
	"github.com/sumitnemade/ragify-go/pkg/pool"
	"github.com/sumitnemade/ragify-go/pkg/ratelimit"
	"github.com/sumitnemade/ragify-go/pkg/scheduler"
)

// Request describes one windowed fetch against a source.
type Request struct {
	Query   string                 `json:"query"`
	Filters map[string]interface{} `json:"filters,omitempty"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// Source is the behavior a wired backend exposes to callers.
type Source interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*models.Result, error)
	HealthStatus() pool.HealthStatus
	Stats() Stats
	Close() error
}

// Stats aggregates the per-subsystem counters of one source.
type Stats struct {
	Pool    pool.PerformanceMetrics `json:"pool"`
	Cache   cache.Stats             `json:"cache"`
	Limiter ratelimit.LimiterStats  `json:"limiter"`
}

// BaseSource is the standard Source implementation. Backend specifics live
// entirely in the injected pool.Driver.
type BaseSource struct {
	name      string
	cfg       *config.Config
	pool      *pool.Pool
	scheduler *scheduler.Scheduler
	cache     *cache.Cache[*models.Result]
	cacheTTL  time.Duration
	limiter   *ratelimit.Limiter
	adaptive  *ratelimit.AdaptiveTimeout
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// New builds a source from a validated configuration and a backend driver.
func New(cfg *config.Config, driver pool.Driver, logger *zap.Logger) (*BaseSource, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p, err := pool.New(cfg.Name, cfg.Pool, driver, logger)
	if err != nil {
		return nil, err
	}

	// The rate-limit section may carry a tighter bound on the response cache.
	cacheCfg := cfg.Cache
	if cfg.RateLimit.MaxCacheSize > 0 && cfg.RateLimit.MaxCacheSize < cacheCfg.MaxEntries {
		cacheCfg.MaxEntries = cfg.RateLimit.MaxCacheSize
	}

	// A zero rate-limit TTL would make every stored response instantly
	// expired, so fall back to the cache section's default.
	cacheTTL := cfg.RateLimit.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = cacheCfg.DefaultTTL
	}

	return &BaseSource{
		name:      cfg.Name,
		cfg:       cfg,
		pool:      p,
		scheduler: scheduler.New(cfg.Name, cfg.Query, p, logger),
		cache:     cache.New[*models.Result](cfg.Name, cacheCfg, logger),
		cacheTTL:  cacheTTL,
		limiter:   ratelimit.NewLimiter(cfg.Name, cfg.RateLimit, logger),
		adaptive:  ratelimit.NewAdaptiveTimeout(cfg.AdaptiveTimeout),
		logger:    logger.With(zap.String("component", "source"), zap.String("source", cfg.Name)),
	}, nil
}

// Name returns the source's configured name.
func (s *BaseSource) Name() string { return s.name }

// Fetch retrieves the requested window, serving from cache when possible.
// The call sequence is: rate gate, cache lookup, scheduled execution under
// an adaptive timeout, cache store.
func (s *BaseSource) Fetch(ctx context.Context, req Request) (*models.Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.NewNotInitialized(s.name)
	}
	s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	key := cacheKey(req)
	if res, ok := s.cache.Get(key); ok {
		s.logger.Debug("cache hit", zap.String("query", req.Query))
		return res, nil
	}

	execCtx := ctx
	if timeout := s.adaptive.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	timer := metrics.NewTimer()
	res, err := s.scheduler.Execute(execCtx, req.Query, req.Filters, req.Limit, req.Offset)
	if err != nil {
		return nil, err
	}
	s.adaptive.Observe(timer.Stop())

	s.cache.SetWithTTL(key, res, s.cacheTTL, map[string]interface{}{
		"query": req.Query,
		"rows":  len(res.Rows),
	})

	return res, nil
}

// HealthStatus reports the pool's health snapshot.
func (s *BaseSource) HealthStatus() pool.HealthStatus {
	return s.pool.HealthStatus()
}

// Stats aggregates pool, cache, and limiter counters.
func (s *BaseSource) Stats() Stats {
	return Stats{
		Pool:    s.pool.PerformanceMetrics(),
		Cache:   s.cache.Stats(),
		Limiter: s.limiter.Stats(),
	}
}

// Close releases the pool and cache. Idempotent; fetches after Close fail
// fast.
func (s *BaseSource) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cache.Close()
		s.closeErr = s.pool.Close()
		s.logger.Info("source closed")
	})
	return s.closeErr
}

// cacheKey derives a stable key from the full request window. Map keys are
// emitted in sorted order by the encoder, so equal requests always collide.
func cacheKey(req Request) string {
	raw, err := gojson.Marshal(req)
	if err != nil {
		// Unencodable filters still deserve a distinct key.
		raw = []byte(fmt.Sprintf("%s|%v|%d|%d", req.Query, req.Filters, req.Limit, req.Offset))
	}
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return fmt.Sprintf("%016x", h.Sum64())
}
