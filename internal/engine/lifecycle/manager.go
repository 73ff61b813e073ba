package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"TunnelSpectra/internal/alerter"
	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/engine/dispatch"
	"TunnelSpectra/internal/engine/rollup"
	"TunnelSpectra/internal/engine/writer"
	"TunnelSpectra/internal/model"
	"TunnelSpectra/internal/scheduler"
)

// State is the lifecycle phase of the engine. Stopped is terminal.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Manager wires the dispatcher, rollup tracker, batch writer and scheduler
// together and drives the Starting -> Running -> Draining -> Stopped state
// machine. One Manager is constructed at startup and passed by reference to
// the API layer; there is no package-level state.
type Manager struct {
	cfg   *config.Config
	store model.Store
	clock clock.Clock

	tracker    *rollup.Tracker
	writer     *writer.Writer
	dispatcher *dispatch.Dispatcher
	sched      *scheduler.Scheduler
	alerter    *alerter.Alerter

	state atomic.Int32
}

// Default task names.
const (
	TaskStartupCleanup    = "startup_cleanup"
	TaskHourlyArchive     = "hourly_archive"
	TaskDailyCleanup      = "daily_cleanup"
	TaskWeeklyDeepCleanup = "weekly_deep_cleanup"
)

// NewManager builds the engine. The notifier may be nil, which disables the
// alerter even if enabled in config.
func NewManager(cfg *config.Config, store model.Store, clk clock.Clock, notifier model.Notifier) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		store:   store,
		clock:   clk,
		tracker: rollup.NewTracker(),
	}
	m.state.Store(int32(StateStarting))

	m.writer = writer.New(store, writer.Config{
		QueueSize:     cfg.Writer.QueueSize,
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushIntervalDuration,
		MaxRetries:    cfg.Writer.MaxRetries,
		RetryBackoff:  cfg.Writer.RetryBackoffDuration,
	}, clk)

	m.dispatcher = dispatch.New(dispatch.Config{
		NumWorkers:   cfg.Engine.NumWorkers,
		QueueSize:    cfg.Engine.QueueSize,
		FlushSize:    cfg.Engine.FlushSize,
		FlushWindow:  cfg.Engine.FlushWindowDuration,
		DeltaCeiling: cfg.Engine.DeltaCeiling,
	}, m.tracker, clk, m.writer.EnqueueRecord)

	// Explicit task table, built once at startup.
	m.sched = scheduler.New(clk)
	tasks := []struct {
		name string
		spec string
		fn   scheduler.TaskFunc
	}{
		{TaskStartupCleanup, "@startup", m.runCleanup},
		{TaskHourlyArchive, cfg.Scheduler.HourlyArchive, m.runHourlyArchive},
		{TaskDailyCleanup, cfg.Scheduler.DailyCleanup, m.runCleanup},
		{TaskWeeklyDeepCleanup, cfg.Scheduler.WeeklyCleanup, m.runDeepCleanup},
	}
	for _, t := range tasks {
		if err := m.sched.Register(t.name, t.spec, t.fn); err != nil {
			return nil, fmt.Errorf("failed to register task: %w", err)
		}
	}

	if cfg.Alerter.Enabled && notifier != nil {
		m.alerter = alerter.New(&cfg.Alerter, clk, notifier, m.WorkerStats)
	}

	return m, nil
}

// Start runs the startup cleanup under a bounded timeout (non-fatal on
// timeout), then brings up the writer, shard workers and scheduler.
func (m *Manager) Start() error {
	if State(m.state.Load()) != StateStarting {
		return errors.New("engine has already been started")
	}

	// The startup cleanup runs through the scheduler so its outcome shows
	// up in the task stats like any other run.
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Scheduler.StartupCleanupTimeoutDuration)
	defer cancel()
	log.Println("Running startup cleanup...")
	if err := m.sched.RunNow(ctx, TaskStartupCleanup); err != nil {
		log.Printf("WARN: startup cleanup did not complete: %v (continuing startup)", err)
	}

	m.writer.Start()
	m.dispatcher.Start()
	m.sched.Start()
	if m.alerter != nil {
		m.alerter.Start()
	}

	m.state.Store(int32(StateRunning))
	log.Println("Engine is running.")
	return nil
}

// Dispatch hands one raw sample to the ingest path. Outside the Running
// state it is a no-op; it never blocks and never returns an error.
func (m *Manager) Dispatch(s *model.Sample) {
	if State(m.state.Load()) != StateRunning {
		return
	}
	m.dispatcher.Dispatch(s)
}

// Stop drains the engine: scheduler first, then shard queues (partial
// accumulator buffers are flushed as partial records), then the writer
// under the drain timeout, and finally the storage connection.
func (m *Manager) Stop() {
	if !m.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return
	}
	log.Println("Engine draining...")

	m.sched.Stop()
	if m.alerter != nil {
		m.alerter.Stop()
	}
	m.dispatcher.Stop()
	m.writer.Stop(m.cfg.Scheduler.DrainTimeoutDuration)

	if err := m.store.Close(); err != nil {
		log.Printf("WARN: failed to close store: %v", err)
	}
	m.state.Store(int32(StateStopped))
	log.Println("Engine stopped.")
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// StateName returns the current state as a string, for the API layer.
func (m *Manager) StateName() string {
	return m.State().String()
}

// WorkerStats returns a point-in-time copy of the pipeline counters.
func (m *Manager) WorkerStats() model.WorkerStats {
	ds := m.dispatcher.Stats()
	return model.WorkerStats{
		ActiveInstanceCount:   m.tracker.Len(),
		QueueDepth:            m.dispatcher.QueueDepth(),
		TotalSamplesProcessed: ds.Processed(),
		DroppedSamples:        ds.Dropped(),
		InvalidSamples:        ds.Invalid(),
		AnomalyCount:          ds.Anomalies(),
		CounterResets:         ds.Resets(),
		RecordsWritten:        m.writer.Written(),
		WriteFailures:         m.writer.Failures(),
	}
}

// TaskStats returns the scheduler's task statistics.
func (m *Manager) TaskStats() []model.TaskStats {
	return m.sched.Stats()
}

// ForceRunTask runs a named task immediately, honoring mutual exclusion.
// Task runs are only accepted while the engine is Running; draining or
// stopped engines must not enqueue new writes.
func (m *Manager) ForceRunTask(name string) error {
	if state := m.State(); state != StateRunning {
		return fmt.Errorf("engine is %s, not accepting task runs", state)
	}
	return m.sched.ForceRun(name)
}

// runHourlyArchive closes the current hour bucket and queues one summary
// row per tracked instance through the batch writer.
func (m *Manager) runHourlyArchive(ctx context.Context) error {
	hour := m.clock.Now().UTC().Truncate(time.Hour)
	summaries := m.tracker.CloseHour(hour)
	for _, s := range summaries {
		m.writer.EnqueueSummary(s)
	}
	log.Printf("Hourly archive closed bucket %s with %d instances", hour.Format(time.RFC3339), len(summaries))
	return nil
}

// runCleanup deletes expired rows from both tables. Used by the daily task
// and, under a bounded timeout, at startup.
func (m *Manager) runCleanup(ctx context.Context) error {
	now := m.clock.Now()
	var errs []error

	deleted, err := m.store.DeleteOlderThan(ctx, model.TableMetrics, now.Add(-m.cfg.Scheduler.MetricsRetentionDuration))
	if err != nil {
		errs = append(errs, fmt.Errorf("metrics cleanup: %w", err))
	} else if deleted > 0 {
		log.Printf("Cleanup removed %d expired rows from %s", deleted, model.TableMetrics)
	}

	deleted, err = m.store.DeleteOlderThan(ctx, model.TableHourly, now.Add(-m.cfg.Scheduler.HourlyRetentionDuration))
	if err != nil {
		errs = append(errs, fmt.Errorf("hourly cleanup: %w", err))
	} else if deleted > 0 {
		log.Printf("Cleanup removed %d expired rows from %s", deleted, model.TableHourly)
	}

	return errors.Join(errs...)
}

// runDeepCleanup compacts both tables.
func (m *Manager) runDeepCleanup(ctx context.Context) error {
	var errs []error
	for _, table := range []string{model.TableMetrics, model.TableHourly} {
		if err := m.store.Optimize(ctx, table); err != nil {
			errs = append(errs, err)
		} else {
			log.Printf("Deep cleanup compacted %s", table)
		}
	}
	return errors.Join(errs...)
}
