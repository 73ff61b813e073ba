package delta

import (
	"TunnelSpectra/internal/model"
)

// Result describes the outcome of converting one absolute sample.
type Result struct {
	// Deltas holds the per-counter increase since the previous sample.
	Deltas model.Counters
	// Baseline is true for the first sample ever seen for a key. The sample
	// establishes the reference values and must be excluded from averaging.
	Baseline bool
	// Resets counts counters that restarted from zero in this sample.
	Resets int
	// Anomalies counts counters that decreased without looking like a
	// restart; their deltas were clamped to the sanity ceiling.
	Anomalies int
}

// Tracker converts monotonically increasing absolute counters into
// per-sample deltas. It keeps the last absolute values per key and is owned
// by exactly one shard worker, so it needs no locking.
type Tracker struct {
	last    map[model.Key]model.Counters
	ceiling uint64
}

// NewTracker creates a tracker with the given sanity ceiling for clamped
// deltas.
func NewTracker(ceiling uint64) *Tracker {
	return &Tracker{
		last:    make(map[model.Key]model.Counters),
		ceiling: ceiling,
	}
}

// Convert turns an absolute sample into per-counter deltas and records the
// sample's absolute values as the new reference.
func (t *Tracker) Convert(s *model.Sample) Result {
	key := s.Key()
	current := model.Counters{TCPIn: s.TCPIn, TCPOut: s.TCPOut, UDPIn: s.UDPIn, UDPOut: s.UDPOut}

	last, seen := t.last[key]
	t.last[key] = current
	if !seen {
		return Result{Baseline: true}
	}

	var res Result
	res.Deltas.TCPIn = t.convertOne(last.TCPIn, current.TCPIn, &res)
	res.Deltas.TCPOut = t.convertOne(last.TCPOut, current.TCPOut, &res)
	res.Deltas.UDPIn = t.convertOne(last.UDPIn, current.UDPIn, &res)
	res.Deltas.UDPOut = t.convertOne(last.UDPOut, current.UDPOut, &res)
	return res
}

// convertOne computes the delta of a single counter. A decrease is treated
// as a restart from zero when the drop exceeds the new value itself;
// otherwise the delta is clamped and counted as an anomaly.
func (t *Tracker) convertOne(last, current uint64, res *Result) uint64 {
	if current >= last {
		return current - last
	}
	if last-current > current {
		res.Resets++
		return current
	}
	res.Anomalies++
	if current > t.ceiling {
		return t.ceiling
	}
	return current
}

// Forget drops the reference values for a key, e.g. when the instance was
// removed by an external signal.
func (t *Tracker) Forget(key model.Key) {
	delete(t.last, key)
}

// Len returns the number of keys with a recorded reference.
func (t *Tracker) Len() int {
	return len(t.last)
}
