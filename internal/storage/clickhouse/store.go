package clickhouse

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/model"
)

const createMetricsTable = `
CREATE TABLE IF NOT EXISTS traffic_metrics (
    EndpointID  Int64,
    InstanceID  String,
    RecordTime  DateTime,
    AvgTCPIn    Float64,
    AvgTCPOut   Float64,
    AvgUDPIn    Float64,
    AvgUDPOut   Float64,
    AvgPing     Float64,
    AvgPool     Float64,
    SampleCount UInt32,
    UpCount     UInt32
) ENGINE = MergeTree()
PARTITION BY toYYYYMMDD(RecordTime)
ORDER BY (EndpointID, InstanceID, RecordTime);
`

const createHourlyTable = `
CREATE TABLE IF NOT EXISTS traffic_hourly (
    HourBucket  DateTime,
    EndpointID  Int64,
    InstanceID  String,
    TotalTCPIn  UInt64,
    TotalTCPOut UInt64,
    TotalUDPIn  UInt64,
    TotalUDPOut UInt64,
    DeltaTCPIn  UInt64,
    DeltaTCPOut UInt64,
    DeltaUDPIn  UInt64,
    DeltaUDPOut UInt64
) ENGINE = ReplacingMergeTree()
PARTITION BY toYYYYMM(HourBucket)
ORDER BY (HourBucket, InstanceID);
`

// timeColumns maps each table to the column its retention cutoff applies to.
var timeColumns = map[string]string{
	model.TableMetrics: "RecordTime",
	model.TableHourly:  "HourBucket",
}

// Store implements model.Store on ClickHouse. The hourly table uses
// ReplacingMergeTree keyed by (HourBucket, InstanceID), so upserts are
// plain inserts deduplicated by the engine.
type Store struct {
	conn driver.Conn
}

// NewStore connects to ClickHouse and ensures both tables exist.
func NewStore(cfg config.ClickHouseConfig) (*Store, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	ctx := context.Background()
	if err := conn.Exec(ctx, createMetricsTable); err != nil {
		return nil, fmt.Errorf("failed to create metrics table: %w", err)
	}
	if err := conn.Exec(ctx, createHourlyTable); err != nil {
		return nil, fmt.Errorf("failed to create hourly table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured tables exist.")
	return &Store{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// InsertAggregatedRecords writes the batch in one prepared insert.
func (s *Store) InsertAggregatedRecords(ctx context.Context, records []*model.AggregatedRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO traffic_metrics")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range records {
		err = batch.Append(
			r.EndpointID,
			r.InstanceID,
			r.RecordTime,
			r.AvgTCPIn,
			r.AvgTCPOut,
			r.AvgUDPIn,
			r.AvgUDPOut,
			r.AvgPing,
			r.AvgPool,
			r.SampleCount,
			r.UpCount,
		)
		if err != nil {
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// UpsertHourlySummary inserts the row; ReplacingMergeTree collapses
// duplicate (HourBucket, InstanceID) keys to the latest version.
func (s *Store) UpsertHourlySummary(ctx context.Context, summary *model.HourlySummary) error {
	err := s.conn.Exec(ctx, `
		INSERT INTO traffic_hourly (
			HourBucket, EndpointID, InstanceID,
			TotalTCPIn, TotalTCPOut, TotalUDPIn, TotalUDPOut,
			DeltaTCPIn, DeltaTCPOut, DeltaUDPIn, DeltaUDPOut
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.HourBucket,
		summary.EndpointID,
		summary.InstanceID,
		summary.Totals.TCPIn,
		summary.Totals.TCPOut,
		summary.Totals.UDPIn,
		summary.Totals.UDPOut,
		summary.Increment.TCPIn,
		summary.Increment.TCPOut,
		summary.Increment.UDPIn,
		summary.Increment.UDPOut,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert hourly summary: %w", err)
	}
	return nil
}

// DeleteOlderThan removes expired rows from the named table and returns the
// number of rows that matched the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	column, ok := timeColumns[table]
	if !ok {
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var count uint64
	row := s.conn.QueryRow(ctx, fmt.Sprintf("SELECT count() FROM %s WHERE %s < ?", table, column), cutoff)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count expired rows in %s: %w", table, err)
	}
	if count == 0 {
		return 0, nil
	}

	err := s.conn.Exec(ctx, fmt.Sprintf("ALTER TABLE %s DELETE WHERE %s < ?", table, column), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rows from %s: %w", table, err)
	}
	return int64(count), nil
}

// Optimize forces a merge of the named table's parts, ClickHouse's
// compaction primitive.
func (s *Store) Optimize(ctx context.Context, table string) error {
	if _, ok := timeColumns[table]; !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if err := s.conn.Exec(ctx, fmt.Sprintf("OPTIMIZE TABLE %s FINAL", table)); err != nil {
		return fmt.Errorf("failed to optimize %s: %w", table, err)
	}
	return nil
}

// Close closes the ClickHouse connection.
func (s *Store) Close() error {
	return s.conn.Close()
}
