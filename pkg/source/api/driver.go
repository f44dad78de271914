// Package api adapts an HTTP JSON backend to the connection pool's Driver
// interface. A pooled connection wraps one http.Client; the server is
// expected to return a JSON array of objects for the requested window.
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/sumitnemade/ragify-go/pkg/config"
	"github.com/sumitnemade/ragify-go/pkg/errors"
	"github.com/sumitnemade/ragify-go/pkg/models"
	"github.com/sumitnemade/ragify-go/pkg/pool"
)

// Driver opens HTTP-backed connections against a base URL.
type Driver struct {
	baseURL string
	client  *http.Client
}

// NewDriver creates an API driver. All pooled connections share the
// driver's http.Client, which carries its own transport-level pooling.
func NewDriver(backend config.BackendConfig) *Driver {
	return &Driver{
		baseURL: backend.BaseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// Open validates the configured endpoint and hands out a session.
func (d *Driver) Open(_ context.Context, _ *config.PoolConfig) (pool.Connection, error) {
	if d.baseURL == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "api base_url is required")
	}
	base, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid api base_url")
	}
	return &conn{base: base, client: d.client}, nil
}

type conn struct {
	base   *url.URL
	client *http.Client
}

// Execute issues a GET for the batch window. The query string carries the
// logical query, the window bounds, and any filters.
func (c *conn) Execute(ctx context.Context, batch *models.QueryBatch) ([]models.Row, error) {
	u := *c.base
	q := u.Query()
	q.Set("query", batch.Query)
	q.Set("limit", fmt.Sprintf("%d", batch.Limit))
	q.Set("offset", fmt.Sprintf("%d", batch.Offset))
	for k, v := range batch.Filters {
		q.Set(k, fmt.Sprintf("%v", v))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "building request failed")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "api request deadline exceeded")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "api request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, err
	}

	var rows []models.Row
	if err := gojson.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decoding api response failed")
	}
	return rows, nil
}

// Ping issues a HEAD against the base URL.
func (c *conn) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base.String(), nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "building ping request failed")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "api ping failed")
	}
	_ = resp.Body.Close()
	return nil
}

// Close is a no-op; the shared http.Client outlives individual sessions.
func (c *conn) Close() error { return nil }

// classifyStatus maps HTTP status to the error taxonomy: 429 is a rate
// limit, 5xx is retryable, remaining 4xx are permanent.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrorTypeRateLimit, "api rate limit exceeded")
	case status >= 500:
		return errors.New(errors.ErrorTypeConnection,
			fmt.Sprintf("api server error: %d", status))
	default:
		return errors.New(errors.ErrorTypeQuery,
			fmt.Sprintf("api rejected request: %d", status))
	}
}
