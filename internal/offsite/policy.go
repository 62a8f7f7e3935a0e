package offsite

import (
	"fmt"
	"strings"
	"time"
)

// Raw offsite interval sentinels as persisted in replication settings and
// offsite control records. Positive values are intervals in seconds.
const (
	IntervalNever  int64 = -1
	IntervalAlways int64 = -2
	IntervalCustom int64 = -3
)

// PolicyKind enumerates the offsite replication policies.
type PolicyKind int

const (
	PolicyNever PolicyKind = iota
	PolicyAlways
	PolicyCustom
	PolicyInterval
)

// Policy is the parsed form of an asset's offsite interval.
// Schedule is only meaningful for PolicyCustom and Interval only for PolicyInterval.
type Policy struct {
	Kind     PolicyKind
	Interval time.Duration
	Schedule WeeklySchedule
}

// ParsePolicy interprets a raw interval value. Values that match no policy
// return an error wrapping ErrInvalidPolicy.
func ParsePolicy(raw int64, schedule WeeklySchedule) (Policy, error) {
	switch {
	case raw == IntervalNever:
		return Policy{Kind: PolicyNever}, nil
	case raw == IntervalAlways:
		return Policy{Kind: PolicyAlways}, nil
	case raw == IntervalCustom:
		return Policy{Kind: PolicyCustom, Schedule: schedule}, nil
	case raw > 0:
		return Policy{Kind: PolicyInterval, Interval: time.Duration(raw) * time.Second}, nil
	default:
		return Policy{}, fmt.Errorf("%w: interval %d", ErrInvalidPolicy, raw)
	}
}

// Raw returns the persisted encoding of the policy.
func (p Policy) Raw() int64 {
	switch p.Kind {
	case PolicyNever:
		return IntervalNever
	case PolicyAlways:
		return IntervalAlways
	case PolicyCustom:
		return IntervalCustom
	default:
		return int64(p.Interval / time.Second)
	}
}

func (p Policy) String() string {
	switch p.Kind {
	case PolicyNever:
		return "never"
	case PolicyAlways:
		return "always"
	case PolicyCustom:
		return "custom"
	default:
		return "every " + p.Interval.String()
	}
}

// WeeklySchedule marks hours of the week, indexed by weekday then hour.
type WeeklySchedule [7][24]bool

// Enabled reports whether the given day and hour are marked.
func (w WeeklySchedule) Enabled(day time.Weekday, hour int) bool {
	return w[day][hour]
}

// Set marks or clears a day and hour.
func (w *WeeklySchedule) Set(day time.Weekday, hour int, enabled bool) {
	w[day][hour] = enabled
}

// IsZero reports whether no hour is marked.
func (w WeeklySchedule) IsZero() bool {
	return w == WeeklySchedule{}
}

// EveryHour returns a schedule with every hour of the week marked.
func EveryHour() WeeklySchedule {
	var w WeeklySchedule
	for d := range w {
		for h := range w[d] {
			w[d][h] = true
		}
	}
	return w
}

// String encodes the schedule as 168 characters of '0'/'1', Sunday 00:00 first.
func (w WeeklySchedule) String() string {
	var b strings.Builder
	b.Grow(7 * 24)
	for d := range w {
		for h := range w[d] {
			if w[d][h] {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}

// ParseWeeklySchedule decodes the String encoding. An empty string is the zero schedule.
func ParseWeeklySchedule(s string) (WeeklySchedule, error) {
	var w WeeklySchedule
	if s == "" {
		return w, nil
	}
	if len(s) != 7*24 {
		return w, fmt.Errorf("weekly schedule must have %d entries, got %d", 7*24, len(s))
	}
	for i, c := range s {
		switch c {
		case '1':
			w[i/24][i%24] = true
		case '0':
		default:
			return w, fmt.Errorf("weekly schedule has invalid character %q at %d", c, i)
		}
	}
	return w, nil
}
