// Package cache provides a generic in-memory TTL cache with a size bound,
// TTL-priority eviction, and hit/miss/memory statistics. Every networked
// source keeps one in front of its backend.
package cache

import (
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/metrics"
)

// entryOverheadBytes approximates the bookkeeping cost of one entry
// beyond its encoded value.
const entryOverheadBytes = 96

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
	metadata  map[string]interface{}
	sizeBytes int64
}

func (e *entry[V]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache is a thread-safe key→value store with per-entry TTLs. A zero or
// negative TTL means the entry is already expired: the next Get is a miss.
// Reads never observe a half-written value.
type Cache[V any] struct {
	name   string
	cfg    config.CacheConfig
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*entry[V]

	hits        int64
	misses      int64
	memoryBytes int64
	lastCleanup time.Time

	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	closeOnce     sync.Once
}

// Stats summarizes cache state and effectiveness. HitRate is 0 when no
// accesses have happened yet.
type Stats struct {
	TotalEntries   int       `json:"total_entries"`
	ActiveEntries  int       `json:"active_entries"`
	ExpiredEntries int       `json:"expired_entries"`
	Hits           int64     `json:"hits"`
	Misses         int64     `json:"misses"`
	HitRate        float64   `json:"hit_rate"`
	MemoryBytes    int64     `json:"memory_bytes"`
	LastCleanup    time.Time `json:"last_cleanup"`
}

// New creates a cache and starts its background cleanup loop.
func New[V any](name string, cfg config.CacheConfig, logger *zap.Logger) *Cache[V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	c := &Cache[V]{
		name:        name,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "cache"), zap.String("cache", name)),
		entries:     make(map[string]*entry[V]),
		lastCleanup: time.Now(),
		stopCh:      make(chan struct{}),
	}

	c.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
	go c.cleanupLoop()

	return c
}

// Set stores a value under the cache's default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.cfg.DefaultTTL, nil)
}

// SetWithTTL stores a value with an explicit TTL and optional metadata.
// A zero or negative TTL produces an entry that is already expired.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration, metadata map[string]interface{}) {
	now := time.Now()
	e := &entry[V]{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
		metadata:  metadata,
		sizeBytes: estimateSize(value),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, exists := c.entries[key]; exists {
		c.memoryBytes -= old.sizeBytes
	} else if len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked(now)
	}

	c.entries[key] = e
	c.memoryBytes += e.sizeBytes
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
}

// Get returns the value for key. An expired entry behaves as a miss and is
// purged on access; stale data is never returned.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists {
		c.misses++
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		var zero V
		return zero, false
	}

	if e.expired(now) {
		c.removeLocked(key, e)
		c.misses++
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		var zero V
		return zero, false
	}

	c.hits++
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Contains reports whether key holds a live entry. It does not count as an
// access for hit/miss statistics.
func (c *Cache[V]) Contains(key string) bool {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	return exists && !e.expired(now)
}

// Remove deletes an entry. Removing an absent key is a no-op.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, exists := c.entries[key]; exists {
		c.removeLocked(key, e)
	}
}

// ExtendTTL resets the expiry of a live entry to now+ttl. Returns false
// when the key is absent or already expired.
func (c *Cache[V]) ExtendTTL(key string, ttl time.Duration) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.entries[key]
	if !exists || e.expired(now) {
		return false
	}

	e.expiresAt = now.Add(ttl)
	return true
}

// Clear removes every entry. Hit/miss counters are preserved; they reset
// only when the cache is rebuilt.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry[V])
	c.memoryBytes = 0
	metrics.CacheEntries.WithLabelValues(c.name).Set(0)
}

// Stats returns a consistent snapshot of cache statistics.
func (c *Cache[V]) Stats() Stats {
	now := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	expired := 0
	for _, e := range c.entries {
		if e.expired(now) {
			expired++
		}
	}

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		TotalEntries:   len(c.entries),
		ActiveEntries:  len(c.entries) - expired,
		ExpiredEntries: expired,
		Hits:           c.hits,
		Misses:         c.misses,
		HitRate:        hitRate,
		MemoryBytes:    c.memoryBytes,
		LastCleanup:    c.lastCleanup,
	}
}

// Close stops the background cleanup loop. Idempotent.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.cleanupTicker.Stop()
	})
}

// cleanupLoop periodically purges expired entries.
func (c *Cache[V]) cleanupLoop() {
	for {
		select {
		case <-c.cleanupTicker.C:
			c.cleanup()
		case <-c.stopCh:
			return
		}
	}
}

// cleanup removes expired entries and records the sweep time.
func (c *Cache[V]) cleanup() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for key, e := range c.entries {
		if e.expired(now) {
			c.removeLocked(key, e)
			purged++
		}
	}
	c.lastCleanup = now

	if purged > 0 {
		c.logger.Debug("purged expired entries",
			zap.Int("purged", purged),
			zap.Int("remaining", len(c.entries)))
	}
}

// evictLocked removes one entry to make room: the entry nearest to expiry
// first, oldest-created on ties. Caller holds the write lock.
func (c *Cache[V]) evictLocked(now time.Time) {
	var victimKey string
	var victim *entry[V]

	for key, e := range c.entries {
		if victim == nil {
			victimKey, victim = key, e
			continue
		}
		if e.expiresAt.Before(victim.expiresAt) ||
			(e.expiresAt.Equal(victim.expiresAt) && e.createdAt.Before(victim.createdAt)) {
			victimKey, victim = key, e
		}
	}

	if victim != nil {
		c.removeLocked(victimKey, victim)
		c.logger.Debug("evicted entry at size bound", zap.String("key", victimKey))
	}
}

func (c *Cache[V]) removeLocked(key string, e *entry[V]) {
	delete(c.entries, key)
	c.memoryBytes -= e.sizeBytes
	metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
}

// estimateSize approximates the memory footprint of a value from its
// encoded size. Values that cannot be encoded count only the fixed
// per-entry overhead.
func estimateSize[V any](value V) int64 {
	data, err := gojson.Marshal(value)
	if err != nil {
		return entryOverheadBytes
	}
	return int64(len(data)) + entryOverheadBytes
}
