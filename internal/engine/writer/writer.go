package writer

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"TunnelSpectra/internal/model"
)

// Config tunes the batch writer.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// item is one queued write: either an aggregated record or an hourly
// summary upsert.
type item struct {
	record  *model.AggregatedRecord
	summary *model.HourlySummary
}

// Writer batches aggregated records and hourly summaries into transactional
// storage writes. It owns the only goroutine that touches the store on the
// write path, keeping storage I/O off the ingest workers. Failed batches
// are retried a bounded number of times with exponential backoff, then
// dropped; the failure counter records the loss.
type Writer struct {
	store model.Store
	cfg   Config
	clock clock.Clock

	queue chan item
	wg    sync.WaitGroup

	// mu orders producers against Stop: enqueues hold the read lock across
	// their channel send, and Stop closes the queue under the write lock,
	// so a send can never land on a closed queue.
	mu        sync.RWMutex
	accepting bool

	// ctx is canceled when the drain deadline forces a stop; storage calls
	// and retry backoffs run under it.
	ctx    context.Context
	cancel context.CancelFunc

	written  atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a batch writer on top of the given store. The writer accepts
// enqueues immediately; Start launches the loop that drains them.
func New(store model.Store, cfg Config, clk clock.Clock) *Writer {
	w := &Writer{
		store:     store,
		cfg:       cfg,
		clock:     clk,
		queue:     make(chan item, cfg.QueueSize),
		accepting: true,
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())
	return w
}

// Start launches the write loop.
func (w *Writer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run()
	}()
}

// EnqueueRecord queues an aggregated record without blocking. A full queue
// drops the record and increments the dropped counter.
func (w *Writer) EnqueueRecord(r *model.AggregatedRecord) {
	w.enqueue(item{record: r})
}

// EnqueueSummary queues an hourly summary upsert without blocking.
func (w *Writer) EnqueueSummary(s *model.HourlySummary) {
	w.enqueue(item{summary: s})
}

func (w *Writer) enqueue(it item) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.accepting {
		w.dropped.Add(1)
		return
	}
	select {
	case w.queue <- it:
	default:
		if n := w.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("WARN: batch writer queue full, dropped %d writes so far", n)
		}
	}
}

// Stop flushes the remaining queue and waits up to timeout for the write
// loop to exit. On timeout the writer context is canceled, aborting any
// in-flight storage call; the last batch may be lost and this is logged.
func (w *Writer) Stop(timeout time.Duration) {
	w.mu.Lock()
	if !w.accepting {
		w.mu.Unlock()
		return
	}
	w.accepting = false
	close(w.queue)
	w.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		w.cancel()
		log.Println("Batch writer drained and stopped.")
	case <-w.clock.After(timeout):
		w.cancel()
		log.Printf("WARN: batch writer drain exceeded %s, last batch may be lost", timeout)
	}
}

func (w *Writer) run() {
	ticker := w.clock.Ticker(w.cfg.FlushInterval)
	defer ticker.Stop()

	records := make([]*model.AggregatedRecord, 0, w.cfg.BatchSize)
	var summaries []*model.HourlySummary

	flush := func() {
		if len(records) > 0 {
			w.writeRecords(records)
			records = records[:0]
		}
		for _, s := range summaries {
			w.writeSummary(s)
		}
		summaries = summaries[:0]
	}

	for {
		select {
		case it, ok := <-w.queue:
			if !ok {
				flush()
				return
			}
			if it.record != nil {
				records = append(records, it.record)
			}
			if it.summary != nil {
				summaries = append(summaries, it.summary)
			}
			if len(records)+len(summaries) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.ctx.Done():
			return
		}
	}
}

// writeRecords inserts one batch, retrying with exponential backoff before
// giving the batch up.
func (w *Writer) writeRecords(batch []*model.AggregatedRecord) {
	err := w.withRetry(func(ctx context.Context) error {
		return w.store.InsertAggregatedRecords(ctx, batch)
	})
	if err != nil {
		w.failures.Add(1)
		log.Printf("ERROR: dropping batch of %d records after %d attempts: %v", len(batch), w.cfg.MaxRetries+1, err)
		return
	}
	w.written.Add(uint64(len(batch)))
}

func (w *Writer) writeSummary(s *model.HourlySummary) {
	err := w.withRetry(func(ctx context.Context) error {
		return w.store.UpsertHourlySummary(ctx, s)
	})
	if err != nil {
		w.failures.Add(1)
		log.Printf("ERROR: dropping hourly summary for %d/%s after %d attempts: %v", s.EndpointID, s.InstanceID, w.cfg.MaxRetries+1, err)
		return
	}
	w.written.Add(1)
}

func (w *Writer) withRetry(fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-w.clock.After(delay):
			case <-w.ctx.Done():
				return err
			}
		}
		if err = fn(w.ctx); err == nil {
			return nil
		}
	}
	return err
}

// Written returns the number of rows successfully persisted.
func (w *Writer) Written() uint64 { return w.written.Load() }

// Failures returns the number of batches dropped after retry exhaustion.
func (w *Writer) Failures() uint64 { return w.failures.Load() }

// Dropped returns the number of writes rejected by a saturated queue.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }
