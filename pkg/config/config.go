// Package config provides the unified configuration for the context
// retrieval resilience layer. A single Config structure covers the
// connection pool, the parallel query scheduler, the response cache,
// outbound rate limiting, and adaptive timeouts.
//
// Example usage:
//
//	cfg := config.NewDefaultConfig("articles", "database")
//	cfg.Pool.MaxConnections = 20
//	cfg.Query.BatchSize = 500
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"

	"github.com/sumitnemade/ragify-go/pkg/observability"
)

// Config is the unified configuration for one source instance.
type Config struct {
	// Name identifies the source instance
	Name string `yaml:"name" json:"name"`
	// Type specifies the backend type (e.g., "database", "api", "realtime")
	Type string `yaml:"type" json:"type"`

	// Pool configures the connection pool
	Pool PoolConfig `yaml:"pool" json:"pool"`

	// Query configures the parallel query scheduler
	Query ParallelQueryConfig `yaml:"query" json:"query"`

	// Cache configures the source response cache
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// RateLimit throttles outbound calls
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// AdaptiveTimeout derives per-call timeouts from observed latency
	AdaptiveTimeout AdaptiveTimeoutConfig `yaml:"adaptive_timeout" json:"adaptive_timeout"`

	// Backend holds backend-specific connection details
	Backend BackendConfig `yaml:"backend" json:"backend"`

	// Logging controls the structured logger
	Logging observability.LoggingConfig `yaml:"logging" json:"logging"`
}

// PoolConfig configures the connection pool. It is copied by the pool at
// construction time and treated as immutable afterwards.
type PoolConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	// Password is never serialized; logging or exporting a config must not
	// leak credentials.
	Password string `yaml:"password" json:"-"`

	// MaxConnections caps the number of live backend connections
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	// ConnectionTimeout bounds the wait for an available connection
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
	// QueryTimeout bounds a single unit of backend work
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
	// StaleThreshold marks connections idle longer than this for replacement
	StaleThreshold time.Duration `yaml:"stale_threshold" json:"stale_threshold"`
}

// ParallelQueryConfig configures the parallel query scheduler.
type ParallelQueryConfig struct {
	// MaxConcurrentQueries is the concurrency ceiling for batch fan-out
	MaxConcurrentQueries int `yaml:"max_concurrent_queries" json:"max_concurrent_queries"`
	// BatchSize is the number of rows per batch
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// EnableParallelQueries falls back to sequential execution when false
	EnableParallelQueries bool `yaml:"enable_parallel_queries" json:"enable_parallel_queries"`
	// QueryTimeout bounds each batch execution
	QueryTimeout time.Duration `yaml:"query_timeout" json:"query_timeout"`
	// MaxRetries is the number of additional attempts per batch on
	// transient failure
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// RetryDelay is the initial backoff between attempts
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
}

// CacheConfig configures the TTL cache manager.
type CacheConfig struct {
	// DefaultTTL applies when Set is called without an explicit TTL
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`
	// MaxEntries bounds the cache size; eviction kicks in at the bound
	MaxEntries int `yaml:"max_entries" json:"max_entries"`
	// CleanupInterval is how often expired entries are purged
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// RateLimitConfig throttles outbound calls from a source.
type RateLimitConfig struct {
	// MinInterval is the minimum spacing between consecutive calls
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
	// MaxRequestsPerMinute caps the rolling per-minute call count
	MaxRequestsPerMinute int `yaml:"max_requests_per_minute" json:"max_requests_per_minute"`
	// CacheTTL is the TTL the calling source applies to cached responses
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
	// MaxCacheSize bounds the calling source's response cache
	MaxCacheSize int `yaml:"max_cache_size" json:"max_cache_size"`
}

// AdaptiveTimeoutConfig derives per-call timeouts from observed latency.
type AdaptiveTimeoutConfig struct {
	BaseTimeout time.Duration `yaml:"base_timeout" json:"base_timeout"`
	MinTimeout  time.Duration `yaml:"min_timeout" json:"min_timeout"`
	MaxTimeout  time.Duration `yaml:"max_timeout" json:"max_timeout"`
	// SlowNetworkMultiplier scales the base timeout when latency exceeds
	// the quality threshold
	SlowNetworkMultiplier float64 `yaml:"slow_network_multiplier" json:"slow_network_multiplier"`
	// FastNetworkMultiplier scales the base timeout when latency is under
	// half the quality threshold
	FastNetworkMultiplier float64 `yaml:"fast_network_multiplier" json:"fast_network_multiplier"`
	// NetworkQualityThreshold is the latency boundary between fast and slow
	NetworkQualityThreshold time.Duration `yaml:"network_quality_threshold" json:"network_quality_threshold"`
	Enabled                 bool          `yaml:"enabled" json:"enabled"`
}

// BackendConfig holds backend-specific connection details for the
// source facade adapters.
type BackendConfig struct {
	// BaseURL for the api adapter
	BaseURL string `yaml:"base_url" json:"base_url"`
	// RedisAddr for the realtime adapter
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	// RedisDB selects the redis logical database
	RedisDB int `yaml:"redis_db" json:"redis_db"`
}

// NewDefaultConfig creates a Config with production-ready defaults.
func NewDefaultConfig(name, backendType string) *Config {
	return &Config{
		Name: name,
		Type: backendType,
		Pool: PoolConfig{
			Host:              "localhost",
			Port:              5432,
			MaxConnections:    10,
			ConnectionTimeout: 30 * time.Second,
			QueryTimeout:      30 * time.Second,
			StaleThreshold:    5 * time.Minute,
		},
		Query: ParallelQueryConfig{
			MaxConcurrentQueries:  4,
			BatchSize:             100,
			EnableParallelQueries: true,
			QueryTimeout:          30 * time.Second,
			MaxRetries:            3,
			RetryDelay:            time.Second,
		},
		Cache: CacheConfig{
			DefaultTTL:      time.Hour,
			MaxEntries:      1000,
			CleanupInterval: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			MinInterval:          100 * time.Millisecond,
			MaxRequestsPerMinute: 60,
			CacheTTL:             time.Hour,
			MaxCacheSize:         100,
		},
		AdaptiveTimeout: AdaptiveTimeoutConfig{
			BaseTimeout:             30 * time.Second,
			MinTimeout:              5 * time.Second,
			MaxTimeout:              120 * time.Second,
			SlowNetworkMultiplier:   2.0,
			FastNetworkMultiplier:   0.8,
			NetworkQualityThreshold: time.Second,
			Enabled:                 true,
		},
		Logging: observability.DefaultLoggingConfig(),
	}
}

// Validate checks required fields and value ranges. Call after loading
// configuration to catch errors early.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Pool.MaxConnections < 0 {
		return fmt.Errorf("max_connections cannot be negative")
	}
	if c.Pool.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive")
	}
	if c.Query.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.Query.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("max_concurrent_queries must be positive")
	}
	if c.Query.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive")
	}
	if c.RateLimit.MaxRequestsPerMinute < 0 {
		return fmt.Errorf("max_requests_per_minute cannot be negative")
	}
	if c.AdaptiveTimeout.Enabled {
		if c.AdaptiveTimeout.BaseTimeout <= 0 {
			return fmt.Errorf("base_timeout must be positive")
		}
		if c.AdaptiveTimeout.MinTimeout > c.AdaptiveTimeout.MaxTimeout {
			return fmt.Errorf("min_timeout cannot exceed max_timeout")
		}
	}
	return nil
}
