package rollup

import (
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"TunnelSpectra/internal/model"
)

const shardCount = 32

// entry is the per-key accounting state. Absolute counters and cumulative
// deltas move on every sample; the closed* fields are captured when an hour
// bucket is closed so re-closing the same bucket reproduces identical rows.
type entry struct {
	key        model.Key
	last       model.Counters
	cumulative model.Counters
	updatedAt  time.Time

	closedHour time.Time
	closedCum  model.Counters
	prevClosed model.Counters
}

type shard struct {
	mu      sync.RWMutex
	entries map[model.Key]*entry
}

// Tracker keeps a TrafficSnapshot per instance, fed by every sample on the
// ingest path and read by the hourly archive task. It is deliberately
// decoupled from the accumulator so short-interval averages and hourly
// accounting totals never share state or failure modes.
type Tracker struct {
	shards [shardCount]*shard
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i] = &shard{entries: make(map[model.Key]*entry)}
	}
	return t
}

func (t *Tracker) getShard(key model.Key) *shard {
	return t.shards[xxhash.Sum64String(key.String())%shardCount]
}

// Update folds one sample's absolute counters into the key's snapshot.
// A counter below its previous value is taken as a restart and contributes
// its full current value to the cumulative delta.
func (t *Tracker) Update(s *model.Sample) {
	key := s.Key()
	current := model.Counters{TCPIn: s.TCPIn, TCPOut: s.TCPOut, UDPIn: s.UDPIn, UDPOut: s.UDPOut}

	sh := t.getShard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		sh.entries[key] = &entry{key: key, last: current, updatedAt: s.Timestamp}
		return
	}
	e.cumulative = e.cumulative.Add(counterDelta(e.last, current))
	e.last = current
	e.updatedAt = s.Timestamp
}

func counterDelta(last, current model.Counters) model.Counters {
	return model.Counters{
		TCPIn:  oneDelta(last.TCPIn, current.TCPIn),
		TCPOut: oneDelta(last.TCPOut, current.TCPOut),
		UDPIn:  oneDelta(last.UDPIn, current.UDPIn),
		UDPOut: oneDelta(last.UDPOut, current.UDPOut),
	}
}

func oneDelta(last, current uint64) uint64 {
	if current >= last {
		return current - last
	}
	return current // counter restarted
}

// CloseHour closes the given hour bucket for every tracked key and returns
// one summary row per key. The first close of a bucket captures the current
// cumulative totals; closing the same bucket again reuses the captured
// values, making the operation idempotent.
func (t *Tracker) CloseHour(hour time.Time) []*model.HourlySummary {
	var out []*model.HourlySummary
	for _, sh := range t.shards {
		sh.mu.Lock()
		for _, e := range sh.entries {
			if !e.closedHour.Equal(hour) {
				e.prevClosed = e.closedCum
				e.closedCum = e.cumulative
				e.closedHour = hour
			}
			out = append(out, &model.HourlySummary{
				HourBucket: hour,
				EndpointID: e.key.EndpointID,
				InstanceID: e.key.InstanceID,
				Totals:     e.closedCum,
				Increment:  e.closedCum.Sub(e.prevClosed),
			})
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndpointID != out[j].EndpointID {
			return out[i].EndpointID < out[j].EndpointID
		}
		return out[i].InstanceID < out[j].InstanceID
	})
	return out
}

// Snapshot returns a copy of the key's snapshot state, if tracked.
func (t *Tracker) Snapshot(key model.Key) (model.TrafficSnapshot, bool) {
	sh := t.getShard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.entries[key]
	if !ok {
		return model.TrafficSnapshot{}, false
	}
	return model.TrafficSnapshot{
		Key:          e.key,
		Last:         e.last,
		Cumulative:   e.cumulative,
		SnapshotTime: e.updatedAt,
	}, true
}

// Remove drops a key's snapshot, e.g. when the instance was deleted.
func (t *Tracker) Remove(key model.Key) {
	sh := t.getShard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

// Len returns the number of tracked instances.
func (t *Tracker) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}
