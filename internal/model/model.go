package model

import (
	"fmt"
	"time"
)

// Key uniquely identifies one monitored tunnel instance.
// All per-instance state in the engine is partitioned by Key.
type Key struct {
	EndpointID int64
	InstanceID string
}

// String renders the key in "endpointID/instanceID" form, used for
// shard hashing and log messages.
func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.EndpointID, k.InstanceID)
}

// Sample is one raw metrics reading pushed by a tunnel instance.
// TCP/UDP values are absolute (monotonically increasing) byte counters;
// Ping and Pool are optional gauge readings. A Sample is immutable once
// created.
type Sample struct {
	EndpointID int64     `json:"endpoint_id"`
	InstanceID string    `json:"instance_id"`
	TCPIn      uint64    `json:"tcp_in"`
	TCPOut     uint64    `json:"tcp_out"`
	UDPIn      uint64    `json:"udp_in"`
	UDPOut     uint64    `json:"udp_out"`
	Ping       *float64  `json:"ping,omitempty"`
	Pool       *float64  `json:"pool,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key returns the instance key for the sample.
func (s *Sample) Key() Key {
	return Key{EndpointID: s.EndpointID, InstanceID: s.InstanceID}
}

// Counters groups the four traffic byte counters. It is used both for
// absolute values and for deltas between consecutive readings.
type Counters struct {
	TCPIn  uint64
	TCPOut uint64
	UDPIn  uint64
	UDPOut uint64
}

// Add returns the element-wise sum of two counter sets.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		TCPIn:  c.TCPIn + o.TCPIn,
		TCPOut: c.TCPOut + o.TCPOut,
		UDPIn:  c.UDPIn + o.UDPIn,
		UDPOut: c.UDPOut + o.UDPOut,
	}
}

// Sub returns the element-wise difference c - o. Callers are expected to
// ensure c >= o per element (cumulative counters only move forward).
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		TCPIn:  c.TCPIn - o.TCPIn,
		TCPOut: c.TCPOut - o.TCPOut,
		UDPIn:  c.UDPIn - o.UDPIn,
		UDPOut: c.UDPOut - o.UDPOut,
	}
}

// AggregatedRecord is one persisted aggregation of a flushed sample batch
// for a single instance. Immutable once written; removed only by the
// retention cleanup task.
type AggregatedRecord struct {
	EndpointID  int64
	InstanceID  string
	RecordTime  time.Time
	AvgTCPIn    float64
	AvgTCPOut   float64
	AvgUDPIn    float64
	AvgUDPOut   float64
	AvgPing     float64
	AvgPool     float64
	SampleCount uint32
	UpCount     uint32
}

// TrafficSnapshot is the coarse-grained accounting state for one instance,
// updated on every sample independently of the fine-grained accumulator.
type TrafficSnapshot struct {
	Key          Key
	Last         Counters // last absolute counter values seen
	Cumulative   Counters // running sum of deltas since the tracker saw the key
	SnapshotTime time.Time
}

// HourlySummary is one persisted hour-close rollup row, keyed uniquely by
// (HourBucket, InstanceID).
type HourlySummary struct {
	HourBucket time.Time
	EndpointID int64
	InstanceID string
	Totals     Counters // cumulative deltas at the close of the hour
	Increment  Counters // traffic attributable to this hour
}
