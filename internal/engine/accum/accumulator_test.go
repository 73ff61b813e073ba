package accum

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TunnelSpectra/internal/engine/aggregate"
	"TunnelSpectra/internal/model"
)

type flushRecorder struct {
	keys    []model.Key
	batches [][]aggregate.DeltaSample
}

func (r *flushRecorder) flush(key model.Key, batch []aggregate.DeltaSample) {
	r.keys = append(r.keys, key)
	r.batches = append(r.batches, batch)
}

func ds(tcpIn uint64) aggregate.DeltaSample {
	return aggregate.DeltaSample{Deltas: model.Counters{TCPIn: tcpIn}}
}

func TestAccumulator_FlushAtSizeThreshold(t *testing.T) {
	clk := clock.NewMock()
	rec := &flushRecorder{}
	acc := New(3, time.Minute, clk, rec.flush)
	key := model.Key{EndpointID: 1, InstanceID: "a"}

	acc.Add(key, ds(1))
	acc.Add(key, ds(2))
	assert.Empty(t, rec.batches)
	assert.Equal(t, 2, acc.Pending(key))

	// The Nth sample flushes immediately.
	acc.Add(key, ds(3))
	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[0], 3)
	assert.Equal(t, key, rec.keys[0])
	assert.Zero(t, acc.Pending(key))
}

func TestAccumulator_FlushAfterWindow(t *testing.T) {
	clk := clock.NewMock()
	rec := &flushRecorder{}
	acc := New(30, time.Minute, clk, rec.flush)
	key := model.Key{EndpointID: 1, InstanceID: "a"}

	acc.Add(key, ds(1))
	acc.Add(key, ds(2))

	clk.Add(30 * time.Second)
	acc.FlushStale()
	assert.Empty(t, rec.batches, "window not yet elapsed")

	clk.Add(30 * time.Second)
	acc.FlushStale()
	require.Len(t, rec.batches, 1)
	assert.Len(t, rec.batches[0], 2)
}

func TestAccumulator_WindowRestartsAfterFlush(t *testing.T) {
	clk := clock.NewMock()
	rec := &flushRecorder{}
	acc := New(2, time.Minute, clk, rec.flush)
	key := model.Key{EndpointID: 1, InstanceID: "a"}

	acc.Add(key, ds(1))
	acc.Add(key, ds(2)) // size flush
	require.Len(t, rec.batches, 1)

	clk.Add(59 * time.Second)
	acc.Add(key, ds(3))
	clk.Add(59 * time.Second)
	acc.FlushStale()
	// firstAt was reset when the new buffer started, so only 59s elapsed.
	assert.Len(t, rec.batches, 1)

	clk.Add(time.Second)
	acc.FlushStale()
	require.Len(t, rec.batches, 2)
	assert.Len(t, rec.batches[1], 1)
}

func TestAccumulator_FlushAllPreservesPartials(t *testing.T) {
	clk := clock.NewMock()
	rec := &flushRecorder{}
	acc := New(30, time.Minute, clk, rec.flush)

	a := model.Key{EndpointID: 1, InstanceID: "a"}
	b := model.Key{EndpointID: 1, InstanceID: "b"}
	acc.Add(a, ds(1))
	acc.Add(a, ds(2))
	acc.Add(b, ds(3))

	acc.FlushAll()
	require.Len(t, rec.batches, 2)

	total := len(rec.batches[0]) + len(rec.batches[1])
	assert.Equal(t, 3, total)
	assert.Zero(t, acc.Pending(a))
	assert.Zero(t, acc.Pending(b))

	// Empty buffers do not produce a second flush.
	acc.FlushAll()
	assert.Len(t, rec.batches, 2)
}

func TestAccumulator_KeysAreIndependent(t *testing.T) {
	clk := clock.NewMock()
	rec := &flushRecorder{}
	acc := New(2, time.Minute, clk, rec.flush)

	a := model.Key{EndpointID: 1, InstanceID: "a"}
	b := model.Key{EndpointID: 2, InstanceID: "b"}
	acc.Add(a, ds(1))
	acc.Add(b, ds(2))
	assert.Empty(t, rec.batches)

	acc.Add(a, ds(3))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, a, rec.keys[0])
	assert.Equal(t, 1, acc.Pending(b))
}
