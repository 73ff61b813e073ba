package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"TunnelSpectra/internal/model"
)

// TaskFunc is the handler of a scheduled task.
type TaskFunc func(ctx context.Context) error

// task holds one named recurring job and its run statistics.
type task struct {
	name     string
	schedule Schedule
	fn       TaskFunc

	running atomic.Bool

	mu         sync.Mutex
	lastRun    time.Time
	nextRun    time.Time
	runCount   uint64
	errorCount uint64
	skipCount  uint64
}

// Scheduler drives a registry of named recurring tasks. Runs of the same
// task never overlap: an activation while the previous run is still in
// progress is skipped, logged and counted.
type Scheduler struct {
	clock  clock.Clock
	tasks  []*task
	byName map[string]*task

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates an empty scheduler.
func New(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clock:  clk,
		byName: make(map[string]*task),
	}
}

// Register adds a named task with a schedule descriptor. All tasks must be
// registered before Start.
func (s *Scheduler) Register(name, spec string, fn TaskFunc) error {
	if s.started {
		return fmt.Errorf("cannot register task %q after scheduler start", name)
	}
	if _, ok := s.byName[name]; ok {
		return fmt.Errorf("task %q is already registered", name)
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("task %q: %w", name, err)
	}
	t := &task{name: name, schedule: schedule, fn: fn}
	s.tasks = append(s.tasks, t)
	s.byName[name] = t
	return nil
}

// Start launches one timer loop per recurring task. On-demand tasks stay
// registered for RunNow/ForceRun and Stats but never get a timer.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	for _, t := range s.tasks {
		if !t.schedule.Recurring() {
			continue
		}
		s.wg.Add(1)
		go func(t *task) {
			defer s.wg.Done()
			s.runLoop(t)
		}(t)
	}
	log.Printf("Scheduler started with %d tasks", len(s.tasks))
}

// Stop cancels all task loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	s.wg.Wait()
	log.Println("Scheduler stopped.")
}

func (s *Scheduler) runLoop(t *task) {
	for {
		next := t.schedule.Next(s.clock.Now())
		t.mu.Lock()
		t.nextRun = next
		t.mu.Unlock()

		timer := s.clock.Timer(next.Sub(s.clock.Now()))
		select {
		case <-timer.C:
			s.execute(t)
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// errTaskBusy marks a run attempt that overlapped an in-progress run.
var errTaskBusy = errors.New("task is already running")

// runOnce runs the task once, honoring per-task mutual exclusion. It
// returns errTaskBusy without running if the previous run is in progress.
func (s *Scheduler) runOnce(ctx context.Context, t *task) error {
	if !t.running.CompareAndSwap(false, true) {
		return errTaskBusy
	}
	defer t.running.Store(false)

	started := s.clock.Now()
	err := t.fn(ctx)

	t.mu.Lock()
	t.lastRun = started
	t.runCount++
	if err != nil {
		t.errorCount++
	}
	t.mu.Unlock()
	return err
}

// execute is the scheduled entry point: overlaps are skipped and counted,
// failures logged; neither affects other tasks or the next activation.
func (s *Scheduler) execute(t *task) {
	err := s.runOnce(s.ctx, t)
	switch {
	case errors.Is(err, errTaskBusy):
		t.mu.Lock()
		t.skipCount++
		t.mu.Unlock()
		log.Printf("WARN: task %q still running, skipping this activation", t.name)
	case err != nil:
		log.Printf("ERROR: task %q failed: %v", t.name, err)
	}
}

// RunNow runs a task immediately and synchronously under the given context.
// It fails if the task is unknown or currently running.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	t, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	if err := s.runOnce(ctx, t); err != nil {
		if errors.Is(err, errTaskBusy) {
			return fmt.Errorf("task %q is already running", name)
		}
		return fmt.Errorf("task %q failed: %w", name, err)
	}
	return nil
}

// ForceRun runs a task immediately under the scheduler's own context.
func (s *Scheduler) ForceRun(name string) error {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return s.RunNow(ctx, name)
}

// Stats returns a point-in-time copy of every task's run statistics.
func (s *Scheduler) Stats() []model.TaskStats {
	out := make([]model.TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, model.TaskStats{
			Name:       t.name,
			Schedule:   t.schedule.String(),
			LastRun:    t.lastRun,
			NextRun:    t.nextRun,
			RunCount:   t.runCount,
			ErrorCount: t.errorCount,
			SkipCount:  t.skipCount,
			IsRunning:  t.running.Load(),
		})
		t.mu.Unlock()
	}
	return out
}
