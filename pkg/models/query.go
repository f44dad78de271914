// Package models defines the data types shared between the connection
// pool, the parallel query scheduler, and the source facades.
package models

import "time"

// Row is a single retrieved record, keyed by column or field name.
type Row map[string]interface{}

// QueryBatch is the unit of parallel work: a bounded, non-overlapping
// window (Limit/Offset) over a larger logical query. Batches over the
// same logical query are disjoint and ordered by BatchIndex.
type QueryBatch struct {
	Query      string                 `json:"query"`
	Filters    map[string]interface{} `json:"filters,omitempty"`
	Limit      int                    `json:"limit"`
	Offset     int                    `json:"offset"`
	BatchIndex int                    `json:"batch_index"`
}

// Result aggregates the rows of all batches of one logical query,
// reassembled in batch-index order.
type Result struct {
	// Rows holds the aggregated rows in stable pagination order
	Rows []Row `json:"rows"`
	// QueryTime is the total wall time of the call
	QueryTime time.Duration `json:"query_time"`
	// QueriesExecuted counts every batch attempt actually run,
	// including retries
	QueriesExecuted int `json:"queries_executed"`
	// Metadata carries free-form execution details (batch count,
	// retry count, parallel flag)
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
