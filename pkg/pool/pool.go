// Package pool provides a bounded pool of opaque backend connections with
// health tracking, staleness replacement, and performance counters. The
// pool is the sole admission-control point for a source: concurrency beyond
// its capacity is back-pressure, not an error: excess acquirers wait,
// bounded by the configured connection timeout.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/errors"
	"github.com/sumitnemade/ragify-go/pkg/metrics"
	"github.com/sumitnemade/ragify-go/pkg/models"
)

// Connection is an opaque backend session. Backend-specific drivers
// implement it; the pool never looks inside.
type Connection interface {
	// Execute runs one batch against the backend
	Execute(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error)
	// Ping verifies the session is alive
	Ping(ctx context.Context) error
	// Close tears down the session
	Close() error
}

// Driver opens raw backend connections. It is the external collaborator
// injected into the pool.
type Driver interface {
	Open(ctx context.Context, cfg *config.PoolConfig) (Connection, error)
}

// PooledConnection is a pool-owned handle around a raw connection. Usage
// metadata (in-use flag, timestamps, staleness) lives in the pool's side
// table, not on the handle.
type PooledConnection struct {
	id   string
	conn Connection
}

// ID returns the handle's identifier.
func (pc *PooledConnection) ID() string { return pc.id }

// Execute runs one batch on the underlying connection.
func (pc *PooledConnection) Execute(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error) {
	return pc.conn.Execute(ctx, batch)
}

// Ping checks the underlying connection.
func (pc *PooledConnection) Ping(ctx context.Context) error {
	return pc.conn.Ping(ctx)
}

// connState is the pool-side bookkeeping for one handle.
type connState struct {
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
}

// Pool owns up to MaxConnections live backend connections, created lazily
// on acquisition demand.
type Pool struct {
	name   string
	cfg    config.PoolConfig
	driver Driver
	logger *zap.Logger

	mu      sync.Mutex
	states  map[*PooledConnection]*connState
	free    chan *PooledConnection
	created int
	closed  bool

	closeCh     chan struct{}
	sweepTicker *time.Ticker
	perf        perfCounters
}

// New creates a pool. The configuration is copied and treated as immutable.
// Connections are not opened until first demand.
func New(name string, cfg config.PoolConfig, driver Driver, logger *zap.Logger) (*Pool, error) {
	if driver == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "driver is required")
	}
	if cfg.MaxConnections < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "max_connections cannot be negative")
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 30 * time.Second
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 5 * time.Minute
	}

	p := &Pool{
		name:    name,
		cfg:     cfg,
		driver:  driver,
		logger:  logger.With(zap.String("component", "connection_pool"), zap.String("pool", name)),
		states:  make(map[*PooledConnection]*connState),
		free:    make(chan *PooledConnection, cfg.MaxConnections),
		closeCh: make(chan struct{}),
	}

	sweepEvery := cfg.StaleThreshold / 2
	if sweepEvery < time.Second {
		sweepEvery = time.Second
	}
	p.sweepTicker = time.NewTicker(sweepEvery)
	go p.sweepLoop()

	return p, nil
}

// Acquire blocks until a connection is available or the configured
// connection timeout elapses, in which case it fails with a pool timeout
// error. It never blocks past that bound, including on a zero-capacity
// pool. Closing the pool rejects pending acquirers with ErrPoolClosed.
func (p *Pool) Acquire(ctx context.Context) (*PooledConnection, error) {
	start := time.Now()
	timer := time.NewTimer(p.cfg.ConnectionTimeout)
	defer timer.Stop()

	waited := false
	for {
		select {
		case <-p.closeCh:
			return nil, errors.Wrap(errors.ErrPoolClosed, errors.ErrorTypeState, "acquire on closed pool")
		default:
		}

		// Fast path: reuse a free connection.
		select {
		case pc := <-p.free:
			if p.retireIfStale(pc) {
				continue
			}
			return p.checkout(pc, start, waited)
		default:
		}

		// No free connection: create one if under capacity.
		pc, created, err := p.tryCreate(ctx)
		if err != nil {
			return nil, err
		}
		if created {
			return p.checkout(pc, start, waited)
		}

		// At capacity: wait for a release, bounded by the timeout.
		if !waited {
			waited = true
			p.perf.connectionWaits.Add(1)
		}

		select {
		case pc := <-p.free:
			if p.retireIfStale(pc) {
				continue
			}
			return p.checkout(pc, start, waited)
		case <-timer.C:
			p.perf.timeouts.Add(1)
			metrics.PoolTimeouts.WithLabelValues(p.name).Inc()
			p.recordWait(start)
			p.logger.Warn("connection acquisition timed out",
				zap.Duration("timeout", p.cfg.ConnectionTimeout))
			return nil, errors.NewPoolTimeout(time.Since(start))
		case <-ctx.Done():
			p.recordWait(start)
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "acquire cancelled")
		case <-p.closeCh:
			return nil, errors.Wrap(errors.ErrPoolClosed, errors.ErrorTypeState, "pool closed while waiting")
		}
	}
}

// tryCreate opens a new connection if the pool is under capacity.
// The capacity slot is reserved before dialing so concurrent acquirers
// can never overshoot MaxConnections.
func (p *Pool) tryCreate(ctx context.Context) (*PooledConnection, bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, errors.Wrap(errors.ErrPoolClosed, errors.ErrorTypeState, "acquire on closed pool")
	}
	if p.created >= p.cfg.MaxConnections {
		p.mu.Unlock()
		return nil, false, nil
	}
	p.created++
	p.mu.Unlock()

	conn, err := p.driver.Open(ctx, &p.cfg)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		return nil, false, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open backend connection")
	}

	pc := &PooledConnection{id: uuid.NewString(), conn: conn}
	now := time.Now()

	p.mu.Lock()
	p.states[pc] = &connState{createdAt: now, lastUsed: now}
	p.mu.Unlock()

	p.logger.Debug("created connection",
		zap.String("conn_id", pc.id),
		zap.Int("total", p.totalConnections()))

	return pc, true, nil
}

// checkout marks a handle in use and records wait accounting. A handle won
// from the free list can race with Close, which has already destroyed the
// raw connection: when the pool no longer owns the handle the acquire fails
// instead of handing out a dead session.
func (p *Pool) checkout(pc *PooledConnection, start time.Time, waited bool) (*PooledConnection, error) {
	now := time.Now()

	p.mu.Lock()
	st, ok := p.states[pc]
	if p.closed || !ok {
		p.mu.Unlock()
		return nil, errors.Wrap(errors.ErrPoolClosed, errors.ErrorTypeState, "pool closed during acquire")
	}
	st.inUse = true
	st.lastUsed = now
	p.mu.Unlock()

	if waited {
		p.recordWait(start)
	}
	metrics.PoolAcquireWait.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	p.updateGauges()

	return pc, nil
}

// Release returns a connection to the free set. Releasing a handle the
// pool does not own, or one that is not checked out, is a safe no-op.
func (p *Pool) Release(pc *PooledConnection) {
	if pc == nil {
		return
	}

	p.mu.Lock()
	st, ok := p.states[pc]
	if !ok || !st.inUse {
		p.mu.Unlock()
		p.logger.Warn("release of unknown or idle connection ignored")
		return
	}
	if p.closed {
		delete(p.states, pc)
		p.created--
		p.mu.Unlock()
		_ = pc.conn.Close()
		return
	}
	st.inUse = false
	st.lastUsed = time.Now()
	p.mu.Unlock()

	select {
	case p.free <- pc:
	default:
		// Free list full only if bookkeeping was corrupted; drop the
		// connection rather than block the releaser.
		p.discard(pc)
	}
	p.updateGauges()
}

// Discard removes a broken connection from the pool instead of returning
// it; the capacity it held becomes available for a fresh connection.
// Discarding a foreign handle is a no-op.
func (p *Pool) Discard(pc *PooledConnection) {
	if pc == nil {
		return
	}

	p.mu.Lock()
	_, ok := p.states[pc]
	p.mu.Unlock()
	if !ok {
		return
	}

	p.discard(pc)
	p.logger.Debug("discarded broken connection", zap.String("conn_id", pc.id))
}

func (p *Pool) discard(pc *PooledConnection) {
	p.mu.Lock()
	if _, ok := p.states[pc]; ok {
		delete(p.states, pc)
		p.created--
	}
	p.mu.Unlock()

	_ = pc.conn.Close()
	p.updateGauges()
}

// retireIfStale closes and deregisters a connection idle beyond the stale
// threshold. Stale connections are replaced rather than handed out.
func (p *Pool) retireIfStale(pc *PooledConnection) bool {
	p.mu.Lock()
	st, ok := p.states[pc]
	stale := ok && time.Since(st.lastUsed) > p.cfg.StaleThreshold
	p.mu.Unlock()

	if !stale {
		return false
	}

	p.discard(pc)
	p.logger.Debug("retired stale connection", zap.String("conn_id", pc.id))
	return true
}

// sweepLoop proactively retires stale idle connections.
func (p *Pool) sweepLoop() {
	for {
		select {
		case <-p.sweepTicker.C:
			p.sweep()
		case <-p.closeCh:
			return
		}
	}
}

// sweep drains the free list and retires anything stale.
func (p *Pool) sweep() {
	var keep []*PooledConnection
	retired := 0

	for {
		select {
		case pc := <-p.free:
			if p.retireIfStale(pc) {
				retired++
			} else {
				keep = append(keep, pc)
			}
		default:
			for _, pc := range keep {
				select {
				case p.free <- pc:
				default:
					p.discard(pc)
				}
			}
			if retired > 0 {
				p.logger.Info("retired stale connections",
					zap.Int("retired", retired),
					zap.Int("remaining", p.totalConnections()))
			}
			return
		}
	}
}

// Close drains and destroys every tracked connection and rejects pending
// and future acquisitions. Idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	conns := make([]*PooledConnection, 0, len(p.states))
	for pc := range p.states {
		conns = append(conns, pc)
	}
	p.states = make(map[*PooledConnection]*connState)
	p.created = 0
	p.mu.Unlock()

	close(p.closeCh)
	p.sweepTicker.Stop()

	// Drain the free list so no handle lingers.
	for {
		select {
		case <-p.free:
			continue
		default:
		}
		break
	}

	var firstErr error
	for _, pc := range conns {
		if err := pc.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.updateGauges()
	p.logger.Info("connection pool closed", zap.Int("destroyed", len(conns)))
	return firstErr
}

func (p *Pool) totalConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

func (p *Pool) updateGauges() {
	h := p.HealthStatus()
	metrics.PoolConnections.WithLabelValues(p.name, "in_use").Set(float64(h.InUse))
	metrics.PoolConnections.WithLabelValues(p.name, "available").Set(float64(h.Available))
	metrics.PoolConnections.WithLabelValues(p.name, "stale").Set(float64(h.Stale))
}
