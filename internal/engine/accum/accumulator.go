package accum

import (
	"time"

	"github.com/benbjohnson/clock"

	"TunnelSpectra/internal/engine/aggregate"
	"TunnelSpectra/internal/model"
)

// FlushFunc receives the copied contents of one key's buffer. It runs
// synchronously on the worker that owns the key.
type FlushFunc func(key model.Key, batch []aggregate.DeltaSample)

// buffer holds the pending delta samples for a single key. Cleared, not
// deallocated, on flush.
type buffer struct {
	samples []aggregate.DeltaSample
	firstAt time.Time
}

// Accumulator buffers delta samples per key and flushes a key's buffer when
// it reaches the size threshold or when its oldest entry exceeds the safety
// window. It is owned by exactly one shard worker, so it needs no locking.
type Accumulator struct {
	size    int
	window  time.Duration
	clock   clock.Clock
	buffers map[model.Key]*buffer
	flush   FlushFunc
}

// New creates an accumulator flushing at size samples or after window.
func New(size int, window time.Duration, clk clock.Clock, flush FlushFunc) *Accumulator {
	return &Accumulator{
		size:    size,
		window:  window,
		clock:   clk,
		buffers: make(map[model.Key]*buffer),
		flush:   flush,
	}
}

// Add appends a delta sample to the key's buffer and flushes it if the size
// threshold is reached.
func (a *Accumulator) Add(key model.Key, s aggregate.DeltaSample) {
	buf, ok := a.buffers[key]
	if !ok {
		buf = &buffer{samples: make([]aggregate.DeltaSample, 0, a.size)}
		a.buffers[key] = buf
	}
	if len(buf.samples) == 0 {
		buf.firstAt = a.clock.Now()
	}
	buf.samples = append(buf.samples, s)
	if len(buf.samples) >= a.size {
		a.flushBuffer(key, buf)
	}
}

// FlushStale flushes every buffer whose first sample has been waiting for
// longer than the safety window. Called from the worker's sweep ticker so
// low-traffic keys still surface records with bounded staleness.
func (a *Accumulator) FlushStale() {
	now := a.clock.Now()
	for key, buf := range a.buffers {
		if len(buf.samples) > 0 && now.Sub(buf.firstAt) >= a.window {
			a.flushBuffer(key, buf)
		}
	}
}

// FlushAll force-flushes every non-empty buffer. Used on drain so partial
// batches are preserved rather than discarded.
func (a *Accumulator) FlushAll() {
	for key, buf := range a.buffers {
		if len(buf.samples) > 0 {
			a.flushBuffer(key, buf)
		}
	}
}

func (a *Accumulator) flushBuffer(key model.Key, buf *buffer) {
	batch := make([]aggregate.DeltaSample, len(buf.samples))
	copy(batch, buf.samples)
	buf.samples = buf.samples[:0]
	a.flush(key, batch)
}

// Pending returns the number of samples currently buffered for a key.
func (a *Accumulator) Pending(key model.Key) int {
	if buf, ok := a.buffers[key]; ok {
		return len(buf.samples)
	}
	return 0
}

// Forget drops the buffer for a key without flushing it.
func (a *Accumulator) Forget(key model.Key) {
	delete(a.buffers, key)
}
