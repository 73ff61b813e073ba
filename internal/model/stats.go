package model

import "time"

// WorkerStats is a point-in-time copy of the ingest pipeline's counters,
// served to the API layer without touching the hot path.
type WorkerStats struct {
	ActiveInstanceCount   int    `json:"active_instance_count"`
	QueueDepth            int    `json:"queue_depth"`
	TotalSamplesProcessed uint64 `json:"total_samples_processed"`
	DroppedSamples        uint64 `json:"dropped_samples"`
	InvalidSamples        uint64 `json:"invalid_samples"`
	AnomalyCount          uint64 `json:"anomaly_count"`
	CounterResets         uint64 `json:"counter_resets"`
	RecordsWritten        uint64 `json:"records_written"`
	WriteFailures         uint64 `json:"write_failures"`
}

// TaskStats describes one scheduled task's run history.
type TaskStats struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	RunCount   uint64    `json:"run_count"`
	ErrorCount uint64    `json:"error_count"`
	SkipCount  uint64    `json:"skip_count"`
	IsRunning  bool      `json:"is_running"`
}
