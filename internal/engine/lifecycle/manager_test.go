package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TunnelSpectra/internal/config"
	"TunnelSpectra/internal/model"
)

type fakeStore struct {
	mu          sync.Mutex
	records     []*model.AggregatedRecord
	summaries   []*model.HourlySummary
	deleteCalls []string
	optimized   []string
	closed      bool
}

func (f *fakeStore) InsertAggregatedRecords(ctx context.Context, batch []*model.AggregatedRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, batch...)
	return nil
}

func (f *fakeStore) UpsertHourlySummary(ctx context.Context, s *model.HourlySummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func (f *fakeStore) DeleteOlderThan(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, table)
	return 0, nil
}

func (f *fakeStore) Optimize(ctx context.Context, table string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optimized = append(f.optimized, table)
	return nil
}

func (f *fakeStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStore) recordCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

func (f *fakeStore) summaryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func (f *fakeStore) record(i int) *model.AggregatedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[i]
}

func testManagerConfig() *config.Config {
	cfg := config.Default()
	cfg.Engine.NumWorkers = 2
	cfg.Engine.QueueSize = 64
	cfg.Engine.FlushSize = 2
	cfg.Engine.FlushWindowDuration = time.Minute
	cfg.Writer.BatchSize = 1
	cfg.Writer.FlushIntervalDuration = 10 * time.Millisecond
	cfg.Writer.RetryBackoffDuration = time.Millisecond
	cfg.Scheduler.StartupCleanupTimeoutDuration = time.Second
	cfg.Scheduler.DrainTimeoutDuration = time.Second
	return cfg
}

func sample(inst string, tcpIn uint64) *model.Sample {
	return &model.Sample{
		EndpointID: 1,
		InstanceID: inst,
		TCPIn:      tcpIn,
		Timestamp:  time.Now(),
	}
}

func newTestManager(t *testing.T, store *fakeStore) *Manager {
	t.Helper()
	m, err := NewManager(testManagerConfig(), store, clock.New(), nil)
	require.NoError(t, err)
	return m
}

func findTask(t *testing.T, stats []model.TaskStats, name string) model.TaskStats {
	t.Helper()
	for _, s := range stats {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("task %q not in stats", name)
	return model.TaskStats{}
}

func TestManager_StartRunsStartupCleanup(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)

	assert.Equal(t, StateStarting, m.State())
	require.NoError(t, m.Start())
	assert.Equal(t, StateRunning, m.State())

	store.mu.Lock()
	assert.ElementsMatch(t, []string{model.TableMetrics, model.TableHourly}, store.deleteCalls)
	store.mu.Unlock()

	// The startup pass is accounted like any other task run.
	st := findTask(t, m.TaskStats(), TaskStartupCleanup)
	assert.Equal(t, uint64(1), st.RunCount)
	assert.Zero(t, st.ErrorCount)

	m.Stop()
}

func TestManager_StartIsOneShot(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	m.Stop()
}

func TestManager_SamplesFlowToStorage(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Start())
	defer m.Stop()

	// Baseline plus two counted samples hit the flush threshold of 2.
	m.Dispatch(sample("a", 1000))
	m.Dispatch(sample("a", 1500))
	m.Dispatch(sample("a", 1700))

	require.Eventually(t, func() bool {
		return m.WorkerStats().RecordsWritten == 1
	}, 2*time.Second, 10*time.Millisecond)
	rec := store.record(0)
	assert.InDelta(t, 350.0, rec.AvgTCPIn, 1e-9)
	assert.Equal(t, uint32(2), rec.SampleCount)

	stats := m.WorkerStats()
	assert.Equal(t, uint64(3), stats.TotalSamplesProcessed)
	assert.Equal(t, 1, stats.ActiveInstanceCount)
}

func TestManager_StopDrainsPartialBuffers(t *testing.T) {
	store := &fakeStore{}
	cfg := testManagerConfig()
	cfg.Engine.FlushSize = 30
	m, err := NewManager(cfg, store, clock.New(), nil)
	require.NoError(t, err)
	require.NoError(t, m.Start())

	m.Dispatch(sample("a", 1000))
	m.Dispatch(sample("a", 1200))
	m.Dispatch(sample("a", 1300))
	require.Eventually(t, func() bool {
		return m.WorkerStats().TotalSamplesProcessed == 3
	}, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.Equal(t, StateStopped, m.State())
	assert.True(t, store.closed)

	require.Equal(t, 1, store.recordCount(), "partial buffer preserved on clean shutdown")
	assert.Equal(t, uint32(2), store.record(0).SampleCount)

	// Stopped is terminal: dispatch and stop are no-ops now.
	m.Dispatch(sample("a", 1400))
	m.Stop()
	assert.Equal(t, uint64(3), m.WorkerStats().TotalSamplesProcessed)
}

func TestManager_HourlyArchive(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Start())
	defer m.Stop()

	m.Dispatch(sample("a", 0))
	m.Dispatch(sample("a", 500))
	require.Eventually(t, func() bool {
		return m.WorkerStats().TotalSamplesProcessed == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.ForceRunTask(TaskHourlyArchive))
	require.Eventually(t, func() bool { return store.summaryCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	store.mu.Lock()
	summary := store.summaries[0]
	store.mu.Unlock()
	assert.Equal(t, "a", summary.InstanceID)
	assert.Equal(t, uint64(500), summary.Increment.TCPIn)
}

func TestManager_CleanupTasks(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Start())
	defer m.Stop()

	store.mu.Lock()
	store.deleteCalls = nil // discard the startup cleanup calls
	store.mu.Unlock()

	require.NoError(t, m.ForceRunTask(TaskDailyCleanup))
	require.NoError(t, m.ForceRunTask(TaskWeeklyDeepCleanup))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.ElementsMatch(t, []string{model.TableMetrics, model.TableHourly}, store.deleteCalls)
	assert.ElementsMatch(t, []string{model.TableMetrics, model.TableHourly}, store.optimized)
}

func TestManager_ForceRunUnknownTask(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)
	require.NoError(t, m.Start())
	defer m.Stop()
	assert.Error(t, m.ForceRunTask("nope"))
}

func TestManager_ForceRunOutsideRunning(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)

	// Before Start the engine does not accept task runs.
	assert.Error(t, m.ForceRunTask(TaskDailyCleanup))

	require.NoError(t, m.Start())
	m.Stop()

	// Nor after Stop: a stopped engine must not enqueue new writes.
	assert.Error(t, m.ForceRunTask(TaskDailyCleanup))
}

func TestManager_TaskStats(t *testing.T) {
	store := &fakeStore{}
	m := newTestManager(t, store)

	stats := m.TaskStats()
	names := make([]string, 0, len(stats))
	for _, s := range stats {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{TaskStartupCleanup, TaskHourlyArchive, TaskDailyCleanup, TaskWeeklyDeepCleanup}, names)
}
