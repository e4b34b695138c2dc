package uptime

import (
	"fmt"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// Window names a trailing span ending at the reference instant.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
	WindowWeek Window = "week"
)

// Unit is the presentation unit of a window's durations.
type Unit string

const (
	UnitMinutes Unit = "minutes"
	UnitHours   Unit = "hours"
)

type windowSpec struct {
	name   Window
	length time.Duration
	unit   Unit
}

var windowSpecs = [...]windowSpec{
	{WindowHour, time.Hour, UnitMinutes},
	{WindowDay, 24 * time.Hour, UnitHours},
	{WindowWeek, 7 * 24 * time.Hour, UnitHours},
}

// Input is everything the engine needs for one store. Observations must
// cover at least the last week plus one earlier observation when available;
// they need not be sorted.
type Input struct {
	Store        models.Store
	Schedule     []models.ScheduleEntry
	Observations []models.Observation
}

// WindowResult is the unrounded estimate for one window.
type WindowResult struct {
	StoreID  string
	Window   Window
	Uptime   time.Duration
	Downtime time.Duration
	Unit     Unit
}

// UptimeValue returns Uptime in the window's unit.
func (r WindowResult) UptimeValue() float64 {
	return inUnit(r.Uptime, r.Unit)
}

// DowntimeValue returns Downtime in the window's unit.
func (r WindowResult) DowntimeValue() float64 {
	return inUnit(r.Downtime, r.Unit)
}

func inUnit(d time.Duration, u Unit) float64 {
	if u == UnitMinutes {
		return d.Minutes()
	}
	return d.Hours()
}

// StoreResult holds the three window estimates for a store.
type StoreResult struct {
	StoreID          string
	Hour             WindowResult
	Day              WindowResult
	Week             WindowResult
	TimezoneFallback bool
}

// Aggregate computes the hour, day and week estimates for one store, all
// ending at now. It is a pure function of its arguments.
func Aggregate(in Input, now time.Time) (StoreResult, error) {
	sched, err := NewSchedule(in.Schedule)
	if err != nil {
		return StoreResult{}, fmt.Errorf("store %s: %w", in.Store.ID, err)
	}
	obs, err := sortObservations(in.Observations)
	if err != nil {
		return StoreResult{}, fmt.Errorf("store %s: %w", in.Store.ID, err)
	}
	loc, fellBack := ResolveZone(in.Store.Timezone)

	res := StoreResult{StoreID: in.Store.ID, TimezoneFallback: fellBack}
	for _, w := range windowSpecs {
		wr := computeWindow(in.Store.ID, w, obs, sched, loc, now)
		switch w.name {
		case WindowHour:
			res.Hour = wr
		case WindowDay:
			res.Day = wr
		case WindowWeek:
			res.Week = wr
		}
	}
	return res, nil
}

func computeWindow(storeID string, w windowSpec, obs []models.Observation, sched *Schedule, loc *time.Location, now time.Time) WindowResult {
	start := now.Add(-w.length)
	timeline := BuildTimeline(obs, start, now)
	up, down := Integrate(timeline, now, sched, loc)
	return WindowResult{
		StoreID:  storeID,
		Window:   w.name,
		Uptime:   up,
		Downtime: down,
		Unit:     w.unit,
	}
}
