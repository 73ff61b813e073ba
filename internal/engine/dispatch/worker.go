package dispatch

import (
	"time"

	"github.com/benbjohnson/clock"

	"TunnelSpectra/internal/engine/accum"
	"TunnelSpectra/internal/engine/aggregate"
	"TunnelSpectra/internal/engine/delta"
	"TunnelSpectra/internal/engine/rollup"
	"TunnelSpectra/internal/model"
)

// worker owns all mutable per-key state for its shard: the delta tracker
// and the accumulator. Sharding by key hash guarantees a single writer, so
// neither needs locks.
type worker struct {
	id      int
	queue   <-chan *model.Sample
	stats   *Stats
	tracker *rollup.Tracker
	deltas  *delta.Tracker
	acc     *accum.Accumulator
	clock   clock.Clock
	sweep   time.Duration
}

func newWorker(id int, cfg Config, queue <-chan *model.Sample, stats *Stats, tracker *rollup.Tracker, clk clock.Clock, sink RecordSink) *worker {
	w := &worker{
		id:      id,
		queue:   queue,
		stats:   stats,
		tracker: tracker,
		deltas:  delta.NewTracker(cfg.DeltaCeiling),
		clock:   clk,
		sweep:   cfg.FlushWindow / 4,
	}
	if w.sweep < 10*time.Millisecond {
		w.sweep = 10 * time.Millisecond
	}
	w.acc = accum.New(cfg.FlushSize, cfg.FlushWindow, clk, func(key model.Key, batch []aggregate.DeltaSample) {
		if record := aggregate.Aggregate(key, batch, clk.Now()); record != nil {
			sink(record)
		}
	})
	return w
}

// run processes the shard queue until it is closed, sweeping stale buffers
// on a ticker. On exit every partial buffer is force-flushed so clean
// shutdown preserves partial data.
func (w *worker) run() {
	ticker := w.clock.Ticker(w.sweep)
	defer ticker.Stop()

	for {
		select {
		case s, ok := <-w.queue:
			if !ok {
				w.acc.FlushAll()
				return
			}
			w.process(s)
		case <-ticker.C:
			w.acc.FlushStale()
		}
	}
}

func (w *worker) process(s *model.Sample) {
	w.stats.processed.Add(1)

	// The snapshot tracker sees every sample's absolute values, independent
	// of delta conversion and flush state.
	w.tracker.Update(s)

	res := w.deltas.Convert(s)
	if res.Resets > 0 {
		w.stats.resets.Add(uint64(res.Resets))
	}
	if res.Anomalies > 0 {
		w.stats.anomalies.Add(uint64(res.Anomalies))
	}
	if res.Baseline {
		// First sample for the key establishes the reference values only.
		return
	}
	w.acc.Add(s.Key(), aggregate.DeltaSample{
		Deltas:    res.Deltas,
		Ping:      s.Ping,
		Pool:      s.Pool,
		Timestamp: s.Timestamp,
	})
}
