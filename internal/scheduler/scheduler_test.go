package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TunnelSpectra/internal/model"
)

func findStats(t *testing.T, stats []model.TaskStats, name string) model.TaskStats {
	t.Helper()
	for _, s := range stats {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("task %q not in stats", name)
	return model.TaskStats{}
}

func TestScheduler_RegisterValidation(t *testing.T) {
	s := New(clock.NewMock())
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.Register("a", "@hourly", noop))
	assert.Error(t, s.Register("a", "@daily", noop), "duplicate name")
	assert.Error(t, s.Register("b", "not-a-schedule", noop))
}

func TestScheduler_ForceRun(t *testing.T) {
	s := New(clock.NewMock())
	var runs atomic.Int32
	require.NoError(t, s.Register("archive", "@hourly", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	require.NoError(t, s.ForceRun("archive"))
	assert.Equal(t, int32(1), runs.Load())

	st := findStats(t, s.Stats(), "archive")
	assert.Equal(t, uint64(1), st.RunCount)
	assert.Zero(t, st.ErrorCount)
	assert.False(t, st.IsRunning)

	assert.Error(t, s.ForceRun("nope"))
}

func TestScheduler_ForceRunReportsFailure(t *testing.T) {
	s := New(clock.NewMock())
	boom := errors.New("boom")
	require.NoError(t, s.Register("cleanup", "@daily", func(ctx context.Context) error {
		return boom
	}))

	err := s.ForceRun("cleanup")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	st := findStats(t, s.Stats(), "cleanup")
	assert.Equal(t, uint64(1), st.RunCount)
	assert.Equal(t, uint64(1), st.ErrorCount)
}

func TestScheduler_NoOverlappingRuns(t *testing.T) {
	s := New(clock.NewMock())
	started := make(chan struct{})
	unblock := make(chan struct{})
	require.NoError(t, s.Register("slow", "@hourly", func(ctx context.Context) error {
		close(started)
		<-unblock
		return nil
	}))

	errChan := make(chan error, 1)
	go func() { errChan <- s.ForceRun("slow") }()
	<-started

	// A second attempt while the first is in flight is refused.
	err := s.ForceRun("slow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	st := findStats(t, s.Stats(), "slow")
	assert.True(t, st.IsRunning)

	close(unblock)
	require.NoError(t, <-errChan)
	st = findStats(t, s.Stats(), "slow")
	assert.Equal(t, uint64(1), st.RunCount)
}

func TestScheduler_ScheduledActivation(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk)
	var runs atomic.Int32
	require.NoError(t, s.Register("tick", "@every 1h", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	// NextRun is published before the first activation.
	require.Eventually(t, func() bool {
		return !findStats(t, s.Stats(), "tick").NextRun.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond) // let the loop arm its timer
	clk.Add(time.Hour)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	clk.Add(time.Hour)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	stFinal := findStats(t, s.Stats(), "tick")
	assert.Equal(t, uint64(2), stFinal.RunCount)
}

func TestScheduler_StartupTaskRunsOnlyOnDemand(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk)
	var runs atomic.Int32
	require.NoError(t, s.Register("boot", "@startup", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	// The scheduler never activates an on-demand task by itself.
	time.Sleep(20 * time.Millisecond)
	clk.Add(30 * 24 * time.Hour)
	assert.Zero(t, runs.Load())

	require.NoError(t, s.RunNow(context.Background(), "boot"))
	assert.Equal(t, int32(1), runs.Load())

	st := findStats(t, s.Stats(), "boot")
	assert.Equal(t, uint64(1), st.RunCount)
	assert.True(t, st.NextRun.IsZero())
}

func TestScheduler_TaskFailureIsIsolated(t *testing.T) {
	clk := clock.NewMock()
	s := New(clk)
	var good atomic.Int32
	require.NoError(t, s.Register("bad", "@every 1h", func(ctx context.Context) error {
		return errors.New("always fails")
	}))
	require.NoError(t, s.Register("good", "@every 1h", func(ctx context.Context) error {
		good.Add(1)
		return nil
	}))

	s.Start()
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	clk.Add(time.Hour)
	require.Eventually(t, func() bool { return good.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return findStats(t, s.Stats(), "bad").ErrorCount == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, uint64(1), findStats(t, s.Stats(), "good").RunCount)
	assert.Zero(t, findStats(t, s.Stats(), "good").ErrorCount)
}
