// Package realtime adapts a Redis list backend to the connection pool's
// Driver interface. The logical query names a list key; a batch reads one
// LRANGE window of JSON-encoded elements.
package realtime

import (
	"context"
	stderrors "errors"

	gojson "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/errors"
	"github.com/sumitnemade/ragify-go/pkg/models"
	"github.com/sumitnemade/ragify-go/pkg/pool"
)

// Driver opens Redis-backed connections.
type Driver struct {
	backend config.BackendConfig
}

// NewDriver creates a realtime driver.
func NewDriver(backend config.BackendConfig) *Driver {
	return &Driver{backend: backend}
}

// Open dials Redis and verifies the session with a ping.
func (d *Driver) Open(ctx context.Context, cfg *config.PoolConfig) (pool.Connection, error) {
	addr := d.backend.RedisAddr
	if addr == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "redis_addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       d.backend.RedisDB,
		Password: cfg.Password,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "redis connect failed")
	}
	return &conn{client: client}, nil
}

type conn struct {
	client *redis.Client
}

// Execute reads the batch window from the list named by the query. Elements
// that are not JSON objects are surfaced under a "value" field rather than
// dropped.
func (c *conn) Execute(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error) {
	start := int64(batch.Offset)
	stop := start + int64(batch.Limit) - 1

	elems, err := c.client.LRange(ctx, batch.Query, start, stop).Result()
	if err != nil {
		return nil, classify(err)
	}

	rows := make([]models.Row, 0, len(elems))
	for _, raw := range elems {
		var row models.Row
		if err := gojson.Unmarshal([]byte(raw), &row); err != nil {
			row = models.Row{"value": raw}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *conn) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "redis ping failed")
	}
	return nil
}

func (c *conn) Close() error {
	return c.client.Close()
}

// classify treats deadline hits as timeouts and everything else from the
// transport as retryable.
func classify(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "redis deadline exceeded")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "redis read failed")
}
