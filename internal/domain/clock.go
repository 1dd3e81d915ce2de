package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// ParseClock parses an "HH:MM" string into minutes after midnight.
// "24:00" is accepted as the end of the day.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) == 0 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed clock time %q", s)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock time out of range %q", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Covers reports whether the window covers the wall-clock instant t.
// t must already be in the booking's local timezone. A window whose start is
// after its end wraps past midnight; equal start and end cover the whole day.
// For a wrapped window the weekday restriction applies to the day it opened.
func (w TimeWindow) Covers(t time.Time) (bool, error) {
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return false, err
	}
	end, err := ParseClock(w.EndTime)
	if err != nil {
		return false, err
	}
	if start == minutesPerDay {
		start = 0
	}
	if end == 0 {
		end = minutesPerDay
	}

	minute := t.Hour()*60 + t.Minute()
	day := t.Weekday()

	switch {
	case start == end:
		// whole day
	case start < end:
		if minute < start || minute >= end {
			return false, nil
		}
	default:
		switch {
		case minute >= start:
		case minute < end:
			day = (day + 6) % 7
		default:
			return false, nil
		}
	}

	return w.appliesOn(day), nil
}

func (w TimeWindow) appliesOn(day time.Weekday) bool {
	if len(w.DaysOfWeek) == 0 {
		return true
	}
	for _, d := range w.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}
