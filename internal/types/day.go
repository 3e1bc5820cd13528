package types

import (
	"fmt"
	"time"
)

// DayLayout is the wire format for calendar days
const DayLayout = "2006-01-02"

// StartOfDay truncates t to 00:00:00 UTC of its calendar day
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the inclusive unix-second window [00:00:00, 23:59:59] UTC of day
func DayWindow(day time.Time) (from, to int64) {
	start := StartOfDay(day)
	return start.Unix(), start.Add(24*time.Hour).Unix() - 1
}

// PreviousDay returns the start of the day before day
func PreviousDay(day time.Time) time.Time {
	return StartOfDay(day).AddDate(0, 0, -1)
}

// ParseDay parses a YYYY-MM-DD date as a UTC day
func ParseDay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q (expected %s): %w", s, DayLayout, err)
	}
	return t, nil
}

// DaysBetween returns every day from from to to inclusive.
// An inverted range yields no days.
func DaysBetween(from, to time.Time) []time.Time {
	start, end := StartOfDay(from), StartOfDay(to)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
