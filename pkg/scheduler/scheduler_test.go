package scheduler

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

// scriptConn delegates batch execution to the test's exec function.
type scriptConn struct {
	exec func(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error)
}

func (c *scriptConn) Execute(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error) {
	return c.exec(ctx, batch)
}
func (c *scriptConn) Ping(context.Context) error { return nil }
func (c *scriptConn) Close() error               { return nil }

type scriptDriver struct {
	opens atomic.Int64
	exec  func(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error)
}

func (d *scriptDriver) Open(context.Context, *config.PoolConfig) (pool.Connection, error) {
	d.opens.Add(1)
	return &scriptConn{exec: d.exec}, nil
}

// windowRows materializes a batch window as rows carrying their absolute
// position, so reassembly order is checkable.
func windowRows(batch *models.QueryBatch) []models.Row {
	rows := make([]models.Row, batch.Limit)
	for i := range rows {
		rows[i] = models.Row{"pos": batch.Offset + i}
	}
	return rows
}

func newTestScheduler(t *testing.T, driver *scriptDriver, cfg config.ParallelQueryConfig, poolSize int) *Scheduler {
	t.Helper()
	p, err := pool.New("test", config.PoolConfig{
		MaxConnections:    poolSize,
		ConnectionTimeout: time.Second,
		StaleThreshold:    time.Hour,
	}, driver, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return New("test", cfg, p, zap.NewNop())
}

func defaultQueryConfig() config.ParallelQueryConfig {
	return config.ParallelQueryConfig{
		MaxConcurrentQueries:  4,
		BatchSize:             100,
		EnableParallelQueries: true,
		MaxRetries:            3,
		RetryDelay:            time.Millisecond,
	}
}

func TestSplitProducesDisjointWindows(t *testing.T) {
	s := newTestScheduler(t, &scriptDriver{exec: windowRowsExec}, defaultQueryConfig(), 2)

	batches := s.split("q", nil, 450, 30)
	require.Len(t, batches, 5, "ceil(450/100)")

	next := 30
	for i, b := range batches {
		assert.Equal(t, i, b.BatchIndex)
		assert.Equal(t, next, b.Offset)
		next += b.Limit
	}
	assert.Equal(t, 50, batches[4].Limit, "last batch carries the remainder")
	assert.Equal(t, 30+450, next, "windows cover the request exactly")
}

var windowRowsExec = func(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
	return windowRows(batch), nil
}

func TestZeroLimitSkipsBackend(t *testing.T) {
	driver := &scriptDriver{exec: windowRowsExec}
	s := newTestScheduler(t, driver, defaultQueryConfig(), 2)

	res, err := s.Execute(context.Background(), "q", nil, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Zero(t, res.QueriesExecuted)
	assert.Zero(t, driver.opens.Load(), "no connection should be opened")
}

func TestConcurrencyNeverExceedsCeiling(t *testing.T) {
	var inFlight, peak atomic.Int64
	driver := &scriptDriver{exec: func(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return windowRows(batch), nil
	}}

	cfg := defaultQueryConfig()
	cfg.MaxConcurrentQueries = 3
	cfg.BatchSize = 10
	s := newTestScheduler(t, driver, cfg, 10)

	res, err := s.Execute(context.Background(), "q", nil, 100, 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 100)
	assert.LessOrEqual(t, peak.Load(), int64(3), "at most MaxConcurrentQueries in flight")
}

func TestRowsReassembledInWindowOrder(t *testing.T) {
	// Later batches finish first; order must still follow batch index.
	driver := &scriptDriver{exec: func(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
		time.Sleep(time.Duration(50-10*batch.BatchIndex) * time.Millisecond)
		return windowRows(batch), nil
	}}

	cfg := defaultQueryConfig()
	cfg.BatchSize = 20
	s := newTestScheduler(t, driver, cfg, 5)

	res, err := s.Execute(context.Background(), "q", nil, 100, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 100)
	for i, row := range res.Rows {
		assert.Equal(t, i, row["pos"], "row %d out of order", i)
	}
	assert.Equal(t, true, res.Metadata["parallel"])
	assert.Equal(t, 5, res.Metadata["batch_count"])
}

func TestTransientFailuresAreRetried(t *testing.T) {
	var calls atomic.Int64
	driver := &scriptDriver{exec: func(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New(errors.ErrorTypeConnection, "backend hiccup")
		}
		return windowRows(batch), nil
	}}

	cfg := defaultQueryConfig()
	cfg.BatchSize = 50
	s := newTestScheduler(t, driver, cfg, 4)

	res, err := s.Execute(context.Background(), "q", nil, 150, 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 150)
	assert.Equal(t, 4, res.QueriesExecuted, "3 batches + 1 retry")
	assert.Equal(t, 1, res.Metadata["retry_count"])
}

func TestPermanentFailureFailsWholeQuery(t *testing.T) {
	driver := &scriptDriver{exec: func(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
		if batch.BatchIndex == 1 {
			return nil, errors.New(errors.ErrorTypeValidation, "malformed query")
		}
		return windowRows(batch), nil
	}}

	cfg := defaultQueryConfig()
	cfg.BatchSize = 10
	s := newTestScheduler(t, driver, cfg, 4)

	res, err := s.Execute(context.Background(), "q", nil, 50, 0)
	require.Error(t, err)
	assert.Nil(t, res, "no partial result on batch failure")
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.False(t, errors.IsRetryable(err), "batch failure is permanent for the caller")
}

func TestRetryExhaustionSurfacesLastError(t *testing.T) {
	var calls atomic.Int64
	driver := &scriptDriver{exec: func(context.Context, *models.QueryBatch) ([]models.Row, error) {
		calls.Add(1)
		return nil, errors.New(errors.ErrorTypeTimeout, "backend too slow")
	}}

	cfg := defaultQueryConfig()
	cfg.EnableParallelQueries = false
	cfg.MaxRetries = 2
	s := newTestScheduler(t, driver, cfg, 1)

	res, err := s.Execute(context.Background(), "q", nil, 10, 0)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, int64(3), calls.Load(), "initial attempt plus two retries")
}

func TestSequentialPathWhenParallelDisabled(t *testing.T) {
	driver := &scriptDriver{exec: windowRowsExec}
	cfg := defaultQueryConfig()
	cfg.EnableParallelQueries = false
	cfg.BatchSize = 25
	s := newTestScheduler(t, driver, cfg, 2)

	res, err := s.Execute(context.Background(), "q", nil, 100, 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 100)
	assert.Equal(t, false, res.Metadata["parallel"])
	for i, row := range res.Rows {
		require.Equal(t, i, row["pos"])
	}
}

func TestSingleBatchRunsSequentially(t *testing.T) {
	driver := &scriptDriver{exec: windowRowsExec}
	s := newTestScheduler(t, driver, defaultQueryConfig(), 2)

	res, err := s.Execute(context.Background(), "q", nil, 80, 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 80)
	assert.Equal(t, false, res.Metadata["parallel"], "one batch needs no fan-out")
	assert.Equal(t, 1, res.QueriesExecuted)
}

func TestLargeWindowEndToEnd(t *testing.T) {
	driver := &scriptDriver{exec: windowRowsExec}
	s := newTestScheduler(t, driver, defaultQueryConfig(), 5)

	res, err := s.Execute(context.Background(), "q", nil, 450, 0)
	require.NoError(t, err)
	require.Len(t, res.Rows, 450)
	assert.Equal(t, 5, res.Metadata["batch_count"])
	assert.Equal(t, 5, res.QueriesExecuted)
	for i, row := range res.Rows {
		require.Equal(t, i, row["pos"])
	}

	pm := s.pool.PerformanceMetrics()
	assert.Equal(t, int64(1), pm.TotalQueries)
	assert.Equal(t, int64(1), pm.ParallelQueries)
	assert.Equal(t, int64(5), pm.BatchQueries)
}

func TestBrokenConnectionDiscardedNotRecycled(t *testing.T) {
	var calls atomic.Int64
	driver := &scriptDriver{exec: func(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New(errors.ErrorTypeConnection, "session died")
		}
		return windowRows(batch), nil
	}}

	cfg := defaultQueryConfig()
	cfg.EnableParallelQueries = false
	s := newTestScheduler(t, driver, cfg, 1)

	res, err := s.Execute(context.Background(), "q", nil, 10, 0)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 10)
	assert.Equal(t, int64(2), driver.opens.Load(),
		"the failed session is replaced, not returned to the pool")
}

func TestCancellationNeverTruncatesResult(t *testing.T) {
	// The driver ignores cancellation, so the in-flight batch completes
	// while the queued ones never run. The call must fail rather than
	// return only the finished batch's rows.
	driver := &scriptDriver{exec: func(_ context.Context, batch *models.QueryBatch) ([]models.Row, error) {
		time.Sleep(200 * time.Millisecond)
		return windowRows(batch), nil
	}}

	cfg := defaultQueryConfig()
	cfg.BatchSize = 10
	cfg.MaxConcurrentQueries = 1
	s := newTestScheduler(t, driver, cfg, 4)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := s.Execute(ctx, "q", nil, 30, 0)
	require.Error(t, err, "cancellation before all batches ran must fail the call")
	assert.Nil(t, res, "no partial result alongside an error")
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestExecuteCancelledByCaller(t *testing.T) {
	driver := &scriptDriver{exec: func(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error) {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "query interrupted")
		case <-time.After(5 * time.Second):
			return windowRows(batch), nil
		}
	}}

	cfg := defaultQueryConfig()
	cfg.BatchSize = 10
	s := newTestScheduler(t, driver, cfg, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Execute(ctx, "q", nil, 40, 0)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second, "cancellation must not wait for the backend")
}
