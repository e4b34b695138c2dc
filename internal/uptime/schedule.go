package uptime

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// ErrInvalidSchedule is returned for structurally invalid schedule entries
// (weekday out of range, bad clock time, start after end).
var ErrInvalidSchedule = errors.New("invalid schedule")

const secondsPerDay = 24 * 60 * 60

type span struct {
	start, end models.ClockTime
}

// Schedule answers open-hours membership for one store. A store with no
// entries at all is open around the clock; once any entry exists, weekdays
// without entries are closed.
type Schedule struct {
	alwaysOpen bool
	days       [7][]span
}

// NewSchedule indexes entries per weekday.
func NewSchedule(entries []models.ScheduleEntry) (*Schedule, error) {
	s := &Schedule{alwaysOpen: len(entries) == 0}
	for _, e := range entries {
		if !e.Day.Valid() {
			return nil, fmt.Errorf("%w: weekday %d out of range", ErrInvalidSchedule, e.Day)
		}
		if !validClock(e.Start) || !validClock(e.End) {
			return nil, fmt.Errorf("%w: clock time out of range on weekday %d", ErrInvalidSchedule, e.Day)
		}
		if e.Start.Seconds() > e.End.Seconds() {
			return nil, fmt.Errorf("%w: start %s after end %s on weekday %d", ErrInvalidSchedule, e.Start, e.End, e.Day)
		}
		s.days[e.Day] = append(s.days[e.Day], span{start: e.Start, end: e.End})
	}
	return s, nil
}

func validClock(c models.ClockTime) bool {
	return c.Hour >= 0 && c.Minute >= 0 && c.Minute < 60 && c.Second >= 0 && c.Second < 60 &&
		c.Seconds() < secondsPerDay
}

// AlwaysOpen reports whether the store has no configured hours at all.
func (s *Schedule) AlwaysOpen() bool {
	return s.alwaysOpen
}

// IsOpen reports whether the local (weekday, time-of-day) falls inside an
// entry for that weekday. Bounds are inclusive.
func (s *Schedule) IsOpen(day models.Weekday, clock models.ClockTime) bool {
	if s.alwaysOpen {
		return true
	}
	if !day.Valid() {
		return false
	}
	t := clock.Seconds()
	for _, sp := range s.days[day] {
		if sp.start.Seconds() <= t && t <= sp.end.Seconds() {
			return true
		}
	}
	return false
}

type interval struct {
	from, to time.Time
}

// OpenDuration returns how much of [from, to) lies inside open hours in loc.
// The range is cut at every local midnight so each piece has a single
// weekday, and each piece is clipped against that weekday's open intervals.
func (s *Schedule) OpenDuration(from, to time.Time, loc *time.Location) time.Duration {
	var total time.Duration
	cur := from
	for cur.Before(to) {
		local := cur.In(loc)
		y, m, d := local.Date()
		midnight := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		end := to
		if midnight.Before(end) {
			end = midnight
		}
		total += s.openWithinDay(local, cur, end, loc)
		cur = end
	}
	return total
}

// openWithinDay measures the open part of [from, to), which must lie within
// the local calendar day of local.
func (s *Schedule) openWithinDay(local, from, to time.Time, loc *time.Location) time.Duration {
	if s.alwaysOpen {
		return to.Sub(from)
	}
	spans := s.days[models.WeekdayOf(local.Weekday())]
	if len(spans) == 0 {
		return 0
	}
	y, m, d := local.Date()
	clipped := make([]interval, 0, len(spans))
	for _, sp := range spans {
		a := time.Date(y, m, d, sp.start.Hour, sp.start.Minute, sp.start.Second, 0, loc)
		b := time.Date(y, m, d, sp.end.Hour, sp.end.Minute, sp.end.Second, 0, loc)
		if sp.end.Seconds() == secondsPerDay-1 {
			// 23:59:59 is how data files spell "until midnight".
			b = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		}
		if a.Before(from) {
			a = from
		}
		if b.After(to) {
			b = to
		}
		if a.Before(b) {
			clipped = append(clipped, interval{from: a, to: b})
		}
	}
	return unionLength(clipped)
}

// unionLength sums the length of the union of ivs; overlapping entries are
// counted once.
func unionLength(ivs []interval) time.Duration {
	if len(ivs) == 0 {
		return 0
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].from.Before(ivs[j].from) })
	var total time.Duration
	cur := ivs[0]
	for _, iv := range ivs[1:] {
		if !iv.from.After(cur.to) {
			if iv.to.After(cur.to) {
				cur.to = iv.to
			}
			continue
		}
		total += cur.to.Sub(cur.from)
		cur = iv
	}
	return total + cur.to.Sub(cur.from)
}
