// Package schedule computes concrete service dates from a service's weekly
// pickup pattern. Everything in this package is a pure function of its
// inputs; persistence of the resulting entries is the caller's concern,
// which is what makes plan-transition regeneration idempotent.
package schedule

import (
	"strings"
	"time"
)

// weekdayIndex maps lowercase weekday names to time.Weekday (Sunday = 0).
var weekdayIndex = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// WeekdayIndex resolves a weekday name to its numeric index, case
// insensitively. Unrecognized names resolve to Sunday; callers that want a
// hard failure validate the name upstream (the API layer does, via the
// request validator).
func WeekdayIndex(name string) time.Weekday {
	if w, ok := weekdayIndex[strings.ToLower(name)]; ok {
		return w
	}
	return time.Sunday
}

// KnownWeekday reports whether name is a recognized weekday name.
func KnownWeekday(name string) bool {
	_, ok := weekdayIndex[strings.ToLower(name)]
	return ok
}

// FirstOnOrAfter returns the first date on or after d that falls on the
// given weekday. It advances one day at a time, so the result is at most
// six days past d.
func FirstOnOrAfter(d time.Time, w time.Weekday) time.Time {
	for d.Weekday() != w {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// WeeklyThrough returns first, first+7d, first+14d, ... while the date is
// not after end. Returns nil when first is already past end.
func WeeklyThrough(first, end time.Time) []time.Time {
	var out []time.Time
	for d := first; !d.After(end); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

// MonthWindow returns the first and last calendar day of the month
// containing now, at midnight UTC. Dates in this package carry no time
// component; the window is closed on both ends.
func MonthWindow(now time.Time) (start, end time.Time) {
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, -1)
	return start, end
}

// DateOnly truncates t to midnight UTC, discarding the time component.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
