package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"@hourly", "@daily", "@weekly", "@every 5m", "@startup"} {
		s, err := ParseSchedule(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, spec, s.String())
	}

	for _, spec := range []string{"", "hourly", "@every", "@every x", "@every -1m", "*/5 * * * *"} {
		_, err := ParseSchedule(spec)
		assert.Error(t, err, spec)
	}
}

func TestScheduleNext(t *testing.T) {
	// A Saturday afternoon.
	at := time.Date(2026, 8, 29, 14, 25, 13, 0, time.UTC)

	hourly, _ := ParseSchedule("@hourly")
	assert.Equal(t, time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC), hourly.Next(at))

	daily, _ := ParseSchedule("@daily")
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), daily.Next(at))

	weekly, _ := ParseSchedule("@weekly")
	next := weekly.Next(at)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), next)

	every, _ := ParseSchedule("@every 5m")
	assert.Equal(t, at.Add(5*time.Minute), every.Next(at))
}

func TestScheduleRecurring(t *testing.T) {
	for _, spec := range []string{"@hourly", "@daily", "@weekly", "@every 5m"} {
		s, err := ParseSchedule(spec)
		require.NoError(t, err, spec)
		assert.True(t, s.Recurring(), spec)
	}

	s, err := ParseSchedule("@startup")
	require.NoError(t, err)
	assert.False(t, s.Recurring())
	assert.True(t, s.Next(time.Now()).IsZero())
}

func TestScheduleNextIsStrictlyAfter(t *testing.T) {
	// Exactly on an hour boundary the next activation is the following hour.
	at := time.Date(2026, 8, 29, 14, 0, 0, 0, time.UTC)
	hourly, _ := ParseSchedule("@hourly")
	assert.Equal(t, time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC), hourly.Next(at))

	// A Monday midnight rolls to the next Monday.
	monday := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	weekly, _ := ParseSchedule("@weekly")
	assert.Equal(t, monday.AddDate(0, 0, 7), weekly.Next(monday))
}
