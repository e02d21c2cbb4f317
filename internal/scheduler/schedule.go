// Package scheduler runs housekeeping tasks on simple recurring schedules.
package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule reports the next run time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

// Every runs at a fixed interval.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }

// boundary runs at calendar boundaries such as the top of the hour.
type boundary func(time.Time) time.Time

func (b boundary) Next(after time.Time) time.Time { return b(after) }

// Parse accepts @hourly, @daily, @weekly, @monthly, "@every <d>" and bare
// durations. Durations may use a "d" suffix for whole days.
func Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch expr {
	case "":
		return nil, fmt.Errorf("empty schedule")
	case "@hourly":
		return boundary(nextHour), nil
	case "@daily", "@midnight":
		return boundary(nextDay), nil
	case "@weekly":
		return boundary(nextWeek), nil
	case "@monthly":
		return boundary(nextMonth), nil
	}
	if strings.HasPrefix(expr, "@") && !strings.HasPrefix(expr, "@every ") {
		return nil, fmt.Errorf("unsupported schedule %q", expr)
	}
	d, err := parseDuration(strings.TrimSpace(strings.TrimPrefix(expr, "@every ")))
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", expr, err)
	}
	return Every(d), nil
}

func parseDuration(s string) (time.Duration, error) {
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}

func nextHour(t time.Time) time.Time {
	return t.Truncate(time.Hour).Add(time.Hour)
}

func nextDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
}

// nextWeek is the following Sunday at midnight.
func nextWeek(t time.Time) time.Time {
	days := 7 - int(t.Weekday())
	return time.Date(t.Year(), t.Month(), t.Day()+days, 0, 0, 0, 0, t.Location())
}

func nextMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
}
