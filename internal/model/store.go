package model

import (
	"context"
	"time"
)

// Table names understood by Store implementations.
const (
	TableMetrics = "traffic_metrics"
	TableHourly  = "traffic_hourly"
)

// Store defines the write/delete contract the engine requires from the
// storage backend. The engine never reads rows back; queries belong to the
// API layer, which is outside this core.
type Store interface {
	// InsertAggregatedRecords writes a batch of records in a single
	// transactional insert.
	InsertAggregatedRecords(ctx context.Context, batch []*AggregatedRecord) error

	// UpsertHourlySummary inserts or replaces the row for the summary's
	// (HourBucket, InstanceID) key.
	UpsertHourlySummary(ctx context.Context, summary *HourlySummary) error

	// DeleteOlderThan removes rows of the named table whose time column is
	// before cutoff, returning the number of rows removed.
	DeleteOlderThan(ctx context.Context, table string, cutoff time.Time) (int64, error)

	// Optimize asks the backend to compact the named table.
	Optimize(ctx context.Context, table string) error

	Close() error
}
