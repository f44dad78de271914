// Package database adapts a PostgreSQL backend to the connection pool's
// Driver interface. Each pooled connection owns one pgx session.
package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/errors"
	"github.com/sumitnemade/ragify-go/pkg/models"
	"github.com/sumitnemade/ragify-go/pkg/pool"
)

// Driver opens pgx connections from pool configuration.
type Driver struct{}

// NewDriver creates a PostgreSQL driver.
func NewDriver() *Driver { return &Driver{} }

// Open dials the configured database. The pool calls this lazily, one
// session per pooled connection.
func (d *Driver) Open(ctx context.Context, cfg *config.PoolConfig) (pool.Connection, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	pg, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "postgres connect failed")
	}
	return &conn{pg: pg}, nil
}

type conn struct {
	pg *pgx.Conn
}

// Execute runs one batch as a SELECT over the batch window. Filters become
// positional equality predicates; LIMIT/OFFSET carve the window.
func (c *conn) Execute(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error) {
	sql, args := buildQuery(batch)

	pgRows, err := c.pg.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer pgRows.Close()

	fields := pgRows.FieldDescriptions()
	rows := make([]models.Row, 0, batch.Limit)

	for pgRows.Next() {
		values, err := pgRows.Values()
		if err != nil {
			return nil, classify(err)
		}
		row := make(models.Row, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		rows = append(rows, row)
	}
	if err := pgRows.Err(); err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func (c *conn) Ping(ctx context.Context) error {
	if err := c.pg.Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "postgres ping failed")
	}
	return nil
}

func (c *conn) Close() error {
	return c.pg.Close(context.Background())
}

// buildQuery appends filter predicates and the batch window to the base
// query. Filter keys are sorted so generated SQL is deterministic.
func buildQuery(batch *models.QueryBatch) (string, []interface{}) {
	var sb strings.Builder
	sb.WriteString(batch.Query)

	args := make([]interface{}, 0, len(batch.Filters)+2)

	if len(batch.Filters) > 0 {
		keys := make([]string, 0, len(batch.Filters))
		for k := range batch.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" WHERE ")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(" AND ")
			}
			args = append(args, batch.Filters[k])
			fmt.Fprintf(&sb, "%s = $%d", k, len(args))
		}
	}

	args = append(args, batch.Limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	args = append(args, batch.Offset)
	fmt.Fprintf(&sb, " OFFSET $%d", len(args))

	return sb.String(), args
}

// classify maps pgx failures onto the error taxonomy: server-reported SQL
// errors are permanent, deadline hits are timeouts, everything else (dead
// sockets, dropped sessions) is a retryable connection error.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return errors.Wrap(err, errors.ErrorTypeQuery, "query rejected by server").
			WithDetail("sqlstate", pgErr.Code)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "query deadline exceeded")
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "query transport failed")
}
