package uptime

import (
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// Integrate walks consecutive timeline entries, plus the implied final pair
// (last entry, now), and attributes the open-hours part of each gap to
// uptime or downtime by the status of the gap's leading entry.
func Integrate(timeline []Entry, now time.Time, sched *Schedule, loc *time.Location) (uptime, downtime time.Duration) {
	for i, e := range timeline {
		end := now
		if i+1 < len(timeline) {
			end = timeline[i+1].At
		}
		if !end.After(e.At) {
			continue
		}
		open := sched.OpenDuration(e.At, end, loc)
		if e.Status == models.StatusActive {
			uptime += open
		} else {
			downtime += open
		}
	}
	return uptime, downtime
}
