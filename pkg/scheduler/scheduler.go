// Package scheduler splits one logical query into disjoint LIMIT/OFFSET
// batches and executes them against a connection pool, in parallel up to a
// configured concurrency ceiling. Batches are all-or-nothing: the first
// permanent failure cancels the remaining batches and fails the call, so
// callers never observe a partially assembled result.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/errors"
	"github.com/sumitnemade/ragify-go/pkg/metrics"
	"github.com/sumitnemade/ragify-go/pkg/models"
	"github.com/sumitnemade/ragify-go/pkg/pool"
)

const (
	modeParallel   = "parallel"
	modeSequential = "sequential"
)

// Scheduler fans a windowed query out over pooled connections.
type Scheduler struct {
	name   string
	cfg    config.ParallelQueryConfig
	pool   *pool.Pool
	retry  *RetryPolicy
	logger *zap.Logger
}

// New creates a scheduler bound to a pool. Zero or negative config values
// fall back to safe defaults.
func New(name string, cfg config.ParallelQueryConfig, p *pool.Pool, logger *zap.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConcurrentQueries <= 0 {
		cfg.MaxConcurrentQueries = 4
	}
	return &Scheduler{
		name:   name,
		cfg:    cfg,
		pool:   p,
		retry:  NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
		logger: logger.With(zap.String("component", "query_scheduler"), zap.String("source", name)),
	}
}

// Execute runs query over the [totalOffset, totalOffset+totalLimit) window
// and returns the reassembled rows in window order. QueriesExecuted counts
// every batch attempt, retries included. A zero or negative limit returns
// an empty result without touching the backend.
func (s *Scheduler) Execute(ctx context.Context, query string, filters map[string]interface{}, totalLimit, totalOffset int) (*models.Result, error) {
	start := time.Now()

	if totalLimit <= 0 {
		return &models.Result{
			Rows:      []models.Row{},
			QueryTime: time.Since(start),
			Metadata:  map[string]interface{}{"batch_count": 0, "retry_count": 0, "parallel": false},
		}, nil
	}

	batches := s.split(query, filters, totalLimit, totalOffset)
	parallel := s.cfg.EnableParallelQueries && len(batches) > 1

	var (
		rows     []models.Row
		attempts int
		err      error
	)
	if parallel {
		rows, attempts, err = s.runParallel(ctx, batches)
	} else {
		rows, attempts, err = s.runSequential(ctx, batches)
	}

	s.pool.RecordQuery(parallel)
	s.pool.RecordBatchQueries(attempts)

	mode := modeSequential
	if parallel {
		mode = modeParallel
	}
	metrics.BatchesExecuted.WithLabelValues(s.name, mode).Add(float64(len(batches)))

	if err != nil {
		s.logger.Error("query execution failed",
			zap.String("mode", mode),
			zap.Int("batches", len(batches)),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, err
	}

	elapsed := time.Since(start)
	s.logger.Debug("query executed",
		zap.String("mode", mode),
		zap.Int("batches", len(batches)),
		zap.Int("rows", len(rows)),
		zap.Duration("elapsed", elapsed))

	return &models.Result{
		Rows:            rows,
		QueryTime:       elapsed,
		QueriesExecuted: attempts,
		Metadata: map[string]interface{}{
			"batch_count": len(batches),
			"retry_count": attempts - len(batches),
			"parallel":    parallel,
		},
	}, nil
}

// split carves the requested window into disjoint batches of at most
// BatchSize rows each, indexed in window order.
func (s *Scheduler) split(query string, filters map[string]interface{}, totalLimit, totalOffset int) []models.QueryBatch {
	count := (totalLimit + s.cfg.BatchSize - 1) / s.cfg.BatchSize
	batches := make([]models.QueryBatch, 0, count)

	remaining := totalLimit
	for i := 0; i < count; i++ {
		limit := s.cfg.BatchSize
		if remaining < limit {
			limit = remaining
		}
		batches = append(batches, models.QueryBatch{
			Query:      query,
			Filters:    filters,
			Limit:      limit,
			Offset:     totalOffset + i*s.cfg.BatchSize,
			BatchIndex: i,
		})
		remaining -= limit
	}
	return batches
}

// runSequential executes batches one at a time in window order, failing
// fast on the first unrecoverable error.
func (s *Scheduler) runSequential(ctx context.Context, batches []models.QueryBatch) ([]models.Row, int, error) {
	var rows []models.Row
	total := 0

	for i := range batches {
		batchRows, attempts, err := s.runBatch(ctx, &batches[i])
		total += attempts
		if err != nil {
			return nil, total, errors.NewBatchExecution(batches[i].BatchIndex, attempts, err)
		}
		rows = append(rows, batchRows...)
	}
	return rows, total, nil
}

// runParallel fans batches out across goroutines, at most
// MaxConcurrentQueries in flight. The first permanent failure cancels the
// siblings; results are reassembled strictly by batch index.
func (s *Scheduler) runParallel(ctx context.Context, batches []models.QueryBatch) ([]models.Row, int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, s.cfg.MaxConcurrentQueries)
	results := make([][]models.Row, len(batches))

	var (
		wg       sync.WaitGroup
		attempts atomic.Int64
		errMu    sync.Mutex
		firstErr error
	)

	for i := range batches {
		wg.Add(1)
		go func(batch *models.QueryBatch, slot int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			rows, n, err := s.runBatch(ctx, batch)
			attempts.Add(int64(n))
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = errors.NewBatchExecution(batch.BatchIndex, n, err)
				}
				errMu.Unlock()
				cancel()
				return
			}
			results[slot] = rows
		}(&batches[i], i)
	}
	wg.Wait()

	// A goroutine that bailed in the semaphore wait leaves its slot empty
	// without setting firstErr, so an outside cancellation must fail the
	// call here: a nil error always means the full window was assembled.
	if firstErr == nil && ctx.Err() != nil {
		firstErr = errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "query cancelled")
	}
	if firstErr != nil {
		return nil, int(attempts.Load()), firstErr
	}

	var rows []models.Row
	for _, r := range results {
		rows = append(rows, r...)
	}
	return rows, int(attempts.Load()), nil
}

// runBatch executes one batch with the retry policy, acquiring a fresh
// connection per attempt. Connections that fail with a connection-class
// error are discarded instead of returned.
func (s *Scheduler) runBatch(ctx context.Context, batch *models.QueryBatch) ([]models.Row, int, error) {
	var rows []models.Row
	attempts := 0

	err := s.retry.ExecuteWithCondition(ctx, func() error {
		attempts++
		if attempts > 1 {
			metrics.BatchRetries.WithLabelValues(s.name).Inc()
			s.logger.Debug("retrying batch",
				zap.Int("batch_index", batch.BatchIndex),
				zap.Int("attempt", attempts))
		}
		return s.attempt(ctx, batch, &rows)
	}, errors.IsRetryable)

	return rows, attempts, err
}

func (s *Scheduler) attempt(ctx context.Context, batch *models.QueryBatch, out *[]models.Row) error {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	execCtx := ctx
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	rows, err := pc.Execute(execCtx, batch)
	if err != nil {
		// A dead session must not re-enter circulation.
		if errors.IsType(err, errors.ErrorTypeConnection) {
			s.pool.Discard(pc)
		} else {
			s.pool.Release(pc)
		}
		return err
	}

	s.pool.Release(pc)
	*out = rows
	return nil
}
