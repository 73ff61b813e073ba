package aggregate

import (
	"time"

	"TunnelSpectra/internal/model"
)

// DeltaSample is one accumulator entry: the delta-adjusted byte counters of
// a raw sample plus its optional gauge readings.
type DeltaSample struct {
	Deltas    model.Counters
	Ping      *float64
	Pool      *float64
	Timestamp time.Time
}

// runningMean is the order-dependent weighted incremental average:
// avg' = (avg*n + v) / (n+1). Null readings do not advance n.
type runningMean struct {
	avg float64
	n   int
}

func (m *runningMean) observe(v float64) {
	m.avg = (m.avg*float64(m.n) + v) / float64(m.n+1)
	m.n++
}

// Aggregate reduces a flushed batch of delta samples into one record.
// Byte deltas use the plain arithmetic mean; ping and pool size use the
// weighted incremental average applied in arrival order, which downstream
// consumers depend on for its convergence behavior.
func Aggregate(key model.Key, batch []DeltaSample, recordTime time.Time) *model.AggregatedRecord {
	if len(batch) == 0 {
		return nil
	}

	var sum model.Counters
	var ping, pool runningMean
	upCount := 0

	for i := range batch {
		s := &batch[i]
		sum = sum.Add(s.Deltas)
		if s.Ping != nil {
			ping.observe(*s.Ping)
		}
		if s.Pool != nil {
			pool.observe(*s.Pool)
		}
		if s.Ping != nil || s.Pool != nil {
			upCount++
		}
	}

	n := float64(len(batch))
	return &model.AggregatedRecord{
		EndpointID:  key.EndpointID,
		InstanceID:  key.InstanceID,
		RecordTime:  recordTime,
		AvgTCPIn:    float64(sum.TCPIn) / n,
		AvgTCPOut:   float64(sum.TCPOut) / n,
		AvgUDPIn:    float64(sum.UDPIn) / n,
		AvgUDPOut:   float64(sum.UDPOut) / n,
		AvgPing:     ping.avg,
		AvgPool:     pool.avg,
		SampleCount: uint32(len(batch)),
		UpCount:     uint32(upCount),
	}
}
