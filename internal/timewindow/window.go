// Package timewindow implements the quiet-hours arithmetic: membership tests
// and next-start computation for per-user daily delivery windows, including
// windows that wrap past midnight (e.g. 22:00-02:00).
package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is a daily delivery window in the user's local time.
// Start and End are HH:MM; Start > End means the window wraps midnight.
type Window struct {
	Start string
	End   string
}

// ParseClock parses an HH:MM string into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Validate reports whether both bounds parse.
func (w Window) Validate() error {
	if _, err := ParseClock(w.Start); err != nil {
		return fmt.Errorf("window start: %w", err)
	}
	if _, err := ParseClock(w.End); err != nil {
		return fmt.Errorf("window end: %w", err)
	}
	return nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Contains reports whether t falls inside the window. Both boundary instants
// are inclusive. For a wrapping window (start > end) membership means
// t >= start OR t <= end.
func (w Window) Contains(t time.Time) (bool, error) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return false, err
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return false, err
	}

	now := minuteOfDay(t)
	if start <= end {
		return now >= start && now <= end, nil
	}
	return now >= start || now <= end, nil
}

// NextStart returns the next instant at which the window opens, relative to
// base. When base's time of day is before the window start on the same day
// (and forceNextDay is unset), that is today's start; otherwise it is the
// start on the following day. The result is always after base.
func (w Window) NextStart(base time.Time, forceNextDay bool) (time.Time, error) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return time.Time{}, err
	}

	day := base
	if forceNextDay || minuteOfDay(base) >= start {
		day = base.AddDate(0, 0, 1)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), start/60, start%60, 0, 0, base.Location()), nil
}

// ClampToWindow returns the earliest legal delivery instant at or after
// target: target itself when inside the window, otherwise the next window
// start.
func (w Window) ClampToWindow(target time.Time) (time.Time, error) {
	inside, err := w.Contains(target)
	if err != nil {
		return time.Time{}, err
	}
	if inside {
		return target, nil
	}
	return w.NextStart(target, false)
}
