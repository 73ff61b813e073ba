package scheduler

import (
	"fmt"
	"strings"
	"time"
)

type scheduleKind int

const (
	kindHourly scheduleKind = iota
	kindDaily
	kindWeekly
	kindEvery
	kindStartup
)

// Schedule is a parsed cadence descriptor. Supported forms:
// "@hourly", "@daily", "@weekly" (aligned to UTC hour/day/week boundaries),
// "@every <duration>", and "@startup" for tasks that only run on demand
// (the scheduler never activates them on its own).
type Schedule struct {
	spec  string
	kind  scheduleKind
	every time.Duration
}

// ParseSchedule parses a schedule descriptor.
func ParseSchedule(spec string) (Schedule, error) {
	switch {
	case spec == "@hourly":
		return Schedule{spec: spec, kind: kindHourly}, nil
	case spec == "@daily":
		return Schedule{spec: spec, kind: kindDaily}, nil
	case spec == "@weekly":
		return Schedule{spec: spec, kind: kindWeekly}, nil
	case spec == "@startup":
		return Schedule{spec: spec, kind: kindStartup}, nil
	case strings.HasPrefix(spec, "@every "):
		d, err := time.ParseDuration(strings.TrimPrefix(spec, "@every "))
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid schedule %q: %w", spec, err)
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("invalid schedule %q: duration must be positive", spec)
		}
		return Schedule{spec: spec, kind: kindEvery, every: d}, nil
	default:
		return Schedule{}, fmt.Errorf("unsupported schedule %q", spec)
	}
}

// String returns the original descriptor.
func (s Schedule) String() string {
	return s.spec
}

// Recurring reports whether the scheduler should arm timers for this
// schedule. "@startup" tasks run only through RunNow/ForceRun.
func (s Schedule) Recurring() bool {
	return s.kind != kindStartup
}

// Next returns the first activation time strictly after t. Non-recurring
// schedules have no next activation and return the zero time.
func (s Schedule) Next(t time.Time) time.Time {
	switch s.kind {
	case kindHourly:
		return t.Truncate(time.Hour).Add(time.Hour)
	case kindDaily:
		u := t.UTC()
		midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		return midnight.AddDate(0, 0, 1)
	case kindWeekly:
		u := t.UTC()
		midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		days := (int(time.Monday) - int(u.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days)
	case kindEvery:
		return t.Add(s.every)
	default:
		return time.Time{}
	}
}
