package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"offsite-go/internal/offsite"
)

// ParseInterval converts a command-line offsite interval into its persisted
// value. It accepts "never", "always", "custom", a Go duration ("6h") or a
// number of seconds.
func ParseInterval(s string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never":
		return offsite.IntervalNever, nil
	case "always":
		return offsite.IntervalAlways, nil
	case "custom":
		return offsite.IntervalCustom, nil
	}

	if seconds, err := strconv.ParseInt(s, 10, 64); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("interval must be positive, got %d", seconds)
		}
		return seconds, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	if d < time.Second {
		return 0, fmt.Errorf("interval must be at least one second, got %s", d)
	}
	return int64(d / time.Second), nil
}
