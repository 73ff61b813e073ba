package dispatch

import "sync/atomic"

// Stats holds the ingest pipeline counters. All fields are updated with
// atomics so readers never contend with the hot path.
type Stats struct {
	processed atomic.Uint64
	dropped   atomic.Uint64
	invalid   atomic.Uint64
	anomalies atomic.Uint64
	resets    atomic.Uint64
}

func (s *Stats) Processed() uint64 { return s.processed.Load() }
func (s *Stats) Dropped() uint64   { return s.dropped.Load() }
func (s *Stats) Invalid() uint64   { return s.invalid.Load() }
func (s *Stats) Anomalies() uint64 { return s.anomalies.Load() }
func (s *Stats) Resets() uint64    { return s.resets.Load() }
