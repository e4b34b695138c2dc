package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the polled state of a store at one instant.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// ParseStatus maps raw poll values to a Status. "active" and "1" are active;
// everything else counts as inactive.
func ParseStatus(s string) Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active", "1":
		return StatusActive
	default:
		return StatusInactive
	}
}

// Weekday is the schedule day index: 0 = Monday through 6 = Sunday.
type Weekday int

// WeekdayOf converts a time.Weekday (Sunday = 0) to a schedule Weekday.
func WeekdayOf(d time.Weekday) Weekday {
	return Weekday((int(d) + 6) % 7)
}

// Valid reports whether d is within 0..6.
func (d Weekday) Valid() bool {
	return d >= 0 && d <= 6
}

// ClockTime is a local time-of-day with second precision.
type ClockTime struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM" or "HH:MM:SS" (fractional seconds are dropped).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ClockTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return ClockTime{}, fmt.Errorf("parse clock time %q", s)
}

// ClockOf returns the wall-clock time-of-day of t in its own location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// Seconds returns seconds since midnight.
func (c ClockTime) Seconds() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

// Store is a monitored location. Empty Timezone means UTC.
type Store struct {
	ID       string `json:"store_id"`
	Timezone string `json:"timezone,omitempty"`
}

// ScheduleEntry is one open interval for a store on a weekday, in local time.
type ScheduleEntry struct {
	StoreID string    `json:"store_id"`
	Day     Weekday   `json:"day"`
	Start   ClockTime `json:"start"`
	End     ClockTime `json:"end"`
}

// Observation is a single status poll, timestamp in UTC.
type Observation struct {
	StoreID   string    `json:"store_id"`
	Timestamp time.Time `json:"timestamp"`
	Status    Status    `json:"status"`
}
