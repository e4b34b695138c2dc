package uptime

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// ErrInvalidObservation is returned when an observation has no usable timestamp.
var ErrInvalidObservation = errors.New("invalid observation")

// Entry is one point of a timeline. The status holds until the next entry,
// or until the window end for the last one.
type Entry struct {
	At        time.Time
	Status    models.Status
	Synthetic bool
}

// sortObservations returns a timestamp-ordered copy of obs. Equal timestamps
// keep their input order.
func sortObservations(obs []models.Observation) ([]models.Observation, error) {
	sorted := make([]models.Observation, len(obs))
	copy(sorted, obs)
	for i, o := range sorted {
		if o.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: observation %d has no timestamp", ErrInvalidObservation, i)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted, nil
}

// BuildTimeline returns the entries covering [windowStart, now] from sorted
// observations. The first entry sits at windowStart and carries the status of
// the latest observation at or before it, or inactive when there is none.
// Observations after now are ignored.
func BuildTimeline(sorted []models.Observation, windowStart, now time.Time) []Entry {
	idx := sort.Search(len(sorted), func(i int) bool {
		return sorted[i].Timestamp.After(windowStart)
	})

	lead := Entry{At: windowStart, Status: models.StatusInactive, Synthetic: true}
	if idx > 0 {
		prior := sorted[idx-1]
		lead.Status = prior.Status
		lead.Synthetic = !prior.Timestamp.Equal(windowStart)
	}

	timeline := []Entry{lead}
	for _, o := range sorted[idx:] {
		if o.Timestamp.After(now) {
			break
		}
		timeline = append(timeline, Entry{At: o.Timestamp, Status: o.Status})
	}
	return timeline
}
