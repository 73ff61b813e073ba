package dispatch

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cespare/xxhash/v2"

	"TunnelSpectra/internal/engine/rollup"
	"TunnelSpectra/internal/model"
)

// RecordSink receives aggregated records produced by the shard workers.
type RecordSink func(record *model.AggregatedRecord)

// Config tunes the dispatcher and its worker pool.
type Config struct {
	NumWorkers   int
	QueueSize    int
	FlushSize    int
	FlushWindow  time.Duration
	DeltaCeiling uint64
}

// Dispatcher is the non-blocking entry point of the ingest path. Samples
// are validated, hashed by instance key and pushed onto the owning shard's
// bounded queue. A full queue drops the sample: the ingestion path never
// stalls regardless of downstream load.
type Dispatcher struct {
	cfg     Config
	queues  []chan *model.Sample
	workers []*worker
	stats   *Stats
	tracker *rollup.Tracker

	// mu orders producers against Stop: every Dispatch holds the read lock
	// across its channel send, and Stop closes the queues under the write
	// lock, so a send can never land on a closed queue.
	mu        sync.RWMutex
	accepting bool

	wg sync.WaitGroup
}

// New creates a dispatcher whose workers hand aggregated records to sink
// and keep the rollup tracker current.
func New(cfg Config, tracker *rollup.Tracker, clk clock.Clock, sink RecordSink) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		queues:  make([]chan *model.Sample, cfg.NumWorkers),
		workers: make([]*worker, cfg.NumWorkers),
		stats:   &Stats{},
		tracker: tracker,
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		d.queues[i] = make(chan *model.Sample, cfg.QueueSize)
		d.workers[i] = newWorker(i, cfg, d.queues[i], d.stats, tracker, clk, sink)
	}
	d.accepting = true
	return d
}

// Start launches the shard workers.
func (d *Dispatcher) Start() {
	d.wg.Add(len(d.workers))
	for _, w := range d.workers {
		go func(w *worker) {
			defer d.wg.Done()
			w.run()
		}(w)
	}
	log.Printf("Dispatcher started with %d shard workers (queue size %d)", d.cfg.NumWorkers, d.cfg.QueueSize)
}

// Dispatch routes one sample to its shard worker. It never blocks and never
// returns an error: malformed samples and queue saturation are counted and
// dropped.
func (d *Dispatcher) Dispatch(s *model.Sample) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.accepting {
		return
	}
	if s == nil || s.EndpointID <= 0 || s.InstanceID == "" {
		d.stats.invalid.Add(1)
		return
	}
	idx := xxhash.Sum64String(s.Key().String()) % uint64(len(d.queues))
	select {
	case d.queues[idx] <- s:
	default:
		if n := d.stats.dropped.Add(1); n == 1 || n%1000 == 0 {
			log.Printf("WARN: shard queue %d full, dropped %d samples so far", idx, n)
		}
	}
}

// Stop drains the shard queues and force-flushes every partial buffer
// through the aggregator, then returns once all workers have exited.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		return
	}
	d.accepting = false
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
	log.Println("Dispatcher stopped, all shard workers drained.")
}

// QueueDepth returns the current total backlog across all shard queues.
func (d *Dispatcher) QueueDepth() int {
	depth := 0
	for _, q := range d.queues {
		depth += len(q)
	}
	return depth
}

// Stats returns the dispatcher's counters.
func (d *Dispatcher) Stats() *Stats {
	return d.stats
}
