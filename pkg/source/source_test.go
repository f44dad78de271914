package source

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/errors"
	"github.com/sumitnemade/ragify-go/pkg/models"
	"github.com/sumitnemade/ragify-go/pkg/pool"
)

// memConn serves rows out of process memory, counting executions.
type memConn struct {
	executions *atomic.Int64
	fail       error
}

func (c *memConn) Execute(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
	c.executions.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	rows := make([]models.Row, batch.Limit)
	for i := range rows {
		rows[i] = models.Row{"pos": batch.Offset + i, "query": batch.Query}
	}
	return rows, nil
}

func (c *memConn) Ping(context.Context) error { return nil }
func (c *memConn) Close() error               { return nil }

type memDriver struct {
	executions atomic.Int64
	fail       error
}

func (d *memDriver) Open(context.Context, *config.PoolConfig) (pool.Connection, error) {
	return &memConn{executions: &d.executions, fail: d.fail}, nil
}

func testConfig(name string) *config.Config {
	cfg := config.NewDefaultConfig(name, "memory")
	cfg.Query.RetryDelay = time.Millisecond
	cfg.RateLimit.CacheTTL = time.Minute
	return cfg
}

func newTestSource(t *testing.T, cfg *config.Config, driver pool.Driver) *BaseSource {
	t.Helper()
	s, err := New(cfg, driver, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestFetchReturnsRequestedWindow(t *testing.T) {
	s := newTestSource(t, testConfig("db"), &memDriver{})

	res, err := s.Fetch(context.Background(), Request{Query: "SELECT * FROM docs", Limit: 250, Offset: 10})
	require.NoError(t, err)
	require.Len(t, res.Rows, 250)
	assert.Equal(t, 10, res.Rows[0]["pos"])
	assert.Equal(t, 259, res.Rows[249]["pos"])
}

func TestFetchServesRepeatFromCache(t *testing.T) {
	driver := &memDriver{}
	s := newTestSource(t, testConfig("db"), driver)

	req := Request{Query: "q", Limit: 50}

	first, err := s.Fetch(context.Background(), req)
	require.NoError(t, err)
	execsAfterFirst := driver.executions.Load()

	second, err := s.Fetch(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, execsAfterFirst, driver.executions.Load(), "repeat must not reach the backend")
	assert.Equal(t, first, second, "cache returns the stored result")

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Cache.Hits)
	assert.Equal(t, int64(1), stats.Cache.Misses)
}

func TestZeroRateLimitTTLStillCaches(t *testing.T) {
	cfg := testConfig("db")
	cfg.RateLimit.CacheTTL = 0
	cfg.Cache.DefaultTTL = time.Hour
	driver := &memDriver{}
	s := newTestSource(t, cfg, driver)

	req := Request{Query: "q", Limit: 20}
	_, err := s.Fetch(context.Background(), req)
	require.NoError(t, err)
	execs := driver.executions.Load()

	_, err = s.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, execs, driver.executions.Load(),
		"TTL falls back to the cache default instead of disabling caching")
}

func TestDifferentWindowsDoNotShareCacheEntries(t *testing.T) {
	driver := &memDriver{}
	s := newTestSource(t, testConfig("db"), driver)

	a, err := s.Fetch(context.Background(), Request{Query: "q", Limit: 10, Offset: 0})
	require.NoError(t, err)
	b, err := s.Fetch(context.Background(), Request{Query: "q", Limit: 10, Offset: 10})
	require.NoError(t, err)

	assert.Equal(t, 0, a.Rows[0]["pos"])
	assert.Equal(t, 10, b.Rows[0]["pos"])
	assert.Equal(t, int64(2), s.Stats().Cache.Misses)
}

func TestRateGateSpacesCalls(t *testing.T) {
	cfg := testConfig("db")
	cfg.RateLimit.MinInterval = 60 * time.Millisecond
	s := newTestSource(t, cfg, &memDriver{})

	_, err := s.Fetch(context.Background(), Request{Query: "a", Limit: 1})
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Fetch(context.Background(), Request{Query: "b", Limit: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond,
		"second call must respect the minimum interval")
}

func TestBackendFailurePropagates(t *testing.T) {
	cfg := testConfig("db")
	cfg.Query.MaxRetries = 0
	driver := &memDriver{fail: errors.New(errors.ErrorTypeValidation, "bad query")}
	s := newTestSource(t, cfg, driver)

	res, err := s.Fetch(context.Background(), Request{Query: "broken", Limit: 10})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))

	assert.Zero(t, s.Stats().Cache.TotalEntries, "failures are never cached")
}

func TestFetchAfterCloseFailsFast(t *testing.T) {
	s := newTestSource(t, testConfig("db"), &memDriver{})
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err := s.Fetch(context.Background(), Request{Query: "q", Limit: 1})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}

func TestStatsAggregateSubsystems(t *testing.T) {
	s := newTestSource(t, testConfig("db"), &memDriver{})

	_, err := s.Fetch(context.Background(), Request{Query: "q", Limit: 150})
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Pool.TotalQueries)
	assert.GreaterOrEqual(t, stats.Pool.BatchQueries, int64(2), "150 rows needs two batches")
	assert.Equal(t, int64(1), stats.Limiter.Allowed+stats.Limiter.Delayed)
	assert.Equal(t, 1, stats.Cache.TotalEntries)
}

func TestCacheKeyStableAcrossFilterOrder(t *testing.T) {
	a := cacheKey(Request{Query: "q", Filters: map[string]interface{}{"x": 1, "y": 2}, Limit: 5})
	b := cacheKey(Request{Query: "q", Filters: map[string]interface{}{"y": 2, "x": 1}, Limit: 5})
	assert.Equal(t, a, b, "filter insertion order must not change the key")

	c := cacheKey(Request{Query: "q", Filters: map[string]interface{}{"x": 1, "y": 3}, Limit: 5})
	assert.NotEqual(t, a, c)
}
