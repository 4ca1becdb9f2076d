package utils

import (
	"fmt"
	"time"
)

// ParseRFC3339 returns a time from the provided string or an error.
func ParseRFC3339(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t, nil
}

// ParseDay parses a YYYY-MM-DD date, falling back to RFC3339 for full
// timestamps.
func ParseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	return ParseRFC3339(value)
}

// DurationMS converts a duration into fractional milliseconds.
func DurationMS(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
