// Package ragify provides a resilience layer for context retrieval in RAG
// pipelines: pooled backend connections, parallel batched queries, TTL-cached
// responses, and adaptive rate limiting behind a single source facade.
//
// # Architecture
//
// Every fetch passes through the same pipeline:
//
// 1. Rate gate: a per-source limiter enforces a minimum call interval and a
// rolling per-minute budget before anything touches the network.
//
// 2. Cache: responses are cached by query window with per-entry TTLs; a hit
// short-circuits the whole call.
//
// 3. Scheduler: large windows are split into disjoint LIMIT/OFFSET batches
// and fanned out over pooled connections with bounded concurrency, retrying
// transient failures with exponential backoff.
//
// 4. Pool: a bounded connection pool with lazy creation, stale replacement,
// and back-pressure instead of unbounded queuing.
//
// # Quick Start
//
// Fetch a window from a PostgreSQL-backed source:
//
//	import (
//	    "context"
//	    "github.com/sumitnemade/ragify-go/pkg/config"
//	    "github.com/sumitnemade/ragify-go/pkg/source"
//	    "github.com/sumitnemade/ragify-go/pkg/source/database"
//	)
//
//	cfg := config.NewDefaultConfig("documents", "database")
//	cfg.Pool.Host = "localhost"
//	cfg.Pool.Database = "rag"
//
//	src, _ := source.New(cfg, database.NewDriver(), logger)
//	defer src.Close()
//
//	res, _ := src.Fetch(context.Background(), source.Request{
//	    Query: "SELECT id, chunk FROM documents",
//	    Limit: 500,
//	})
//
// # Key Packages
//
//	pkg/source     - Source facade wiring all subsystems, plus backend adapters
//	pkg/pool       - Bounded connection pool with health and performance tracking
//	pkg/scheduler  - Parallel query scheduler with batch splitting and retries
//	pkg/cache      - Generic TTL cache with bounded size and eviction
//	pkg/ratelimit  - Rate limiter and adaptive timeout controller
//	pkg/config     - Unified YAML configuration with env substitution
//	pkg/errors     - Structured errors with retryability classification
package ragify
