package uptime

import (
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

var monday = time.Date(2023, 1, 23, 0, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return monday.Add(time.Duration(day)*24*time.Hour + time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func obs(ts time.Time, status models.Status) models.Observation {
	return models.Observation{StoreID: "s1", Timestamp: ts, Status: status}
}

// TestBuildTimeline_NoPriorObservation verifies the leading entry defaults to
// inactive when nothing is known before the window.
func TestBuildTimeline_NoPriorObservation(t *testing.T) {
	sorted := []models.Observation{obs(at(0, 10, 30), models.StatusActive)}
	tl := BuildTimeline(sorted, at(0, 10, 0), at(0, 11, 0))
	if len(tl) != 2 {
		t.Fatalf("len(timeline) = %d, want 2", len(tl))
	}
	if !tl[0].Synthetic || tl[0].Status != models.StatusInactive || !tl[0].At.Equal(at(0, 10, 0)) {
		t.Errorf("lead = %+v, want synthetic inactive at window start", tl[0])
	}
	if tl[1].Synthetic || tl[1].Status != models.StatusActive {
		t.Errorf("entry[1] = %+v, want real active", tl[1])
	}
}

// TestBuildTimeline_PriorObservationExtends verifies the latest observation
// before the window sets the leading status.
func TestBuildTimeline_PriorObservationExtends(t *testing.T) {
	sorted := []models.Observation{
		obs(at(0, 7, 0), models.StatusInactive),
		obs(at(0, 9, 0), models.StatusActive),
	}
	tl := BuildTimeline(sorted, at(0, 10, 0), at(0, 11, 0))
	if len(tl) != 1 {
		t.Fatalf("len(timeline) = %d, want 1", len(tl))
	}
	if tl[0].Status != models.StatusActive || !tl[0].Synthetic {
		t.Errorf("lead = %+v, want synthetic active", tl[0])
	}
}

// TestBuildTimeline_ObservationAtWindowStart verifies an observation exactly
// at the window start becomes the leading entry without a duplicate.
func TestBuildTimeline_ObservationAtWindowStart(t *testing.T) {
	sorted := []models.Observation{
		obs(at(0, 9, 0), models.StatusInactive),
		obs(at(0, 10, 0), models.StatusActive),
	}
	tl := BuildTimeline(sorted, at(0, 10, 0), at(0, 11, 0))
	if len(tl) != 1 {
		t.Fatalf("len(timeline) = %d, want 1", len(tl))
	}
	if tl[0].Synthetic || tl[0].Status != models.StatusActive {
		t.Errorf("lead = %+v, want real active", tl[0])
	}
}

// TestBuildTimeline_IgnoresFutureObservations verifies entries after now are dropped.
func TestBuildTimeline_IgnoresFutureObservations(t *testing.T) {
	sorted := []models.Observation{
		obs(at(0, 10, 30), models.StatusActive),
		obs(at(0, 11, 0), models.StatusInactive),
		obs(at(0, 11, 30), models.StatusActive),
	}
	tl := BuildTimeline(sorted, at(0, 10, 0), at(0, 11, 0))
	if len(tl) != 3 {
		t.Fatalf("len(timeline) = %d, want 3 (lead, 10:30, 11:00)", len(tl))
	}
	if !tl[2].At.Equal(at(0, 11, 0)) {
		t.Errorf("last entry at %v, want 11:00", tl[2].At)
	}
}

// TestSortObservations verifies ordering by timestamp and rejection of zero timestamps.
func TestSortObservations(t *testing.T) {
	in := []models.Observation{
		obs(at(0, 12, 0), models.StatusActive),
		obs(at(0, 9, 0), models.StatusInactive),
		obs(at(0, 10, 0), models.StatusActive),
	}
	sorted, err := sortObservations(in)
	if err != nil {
		t.Fatalf("sortObservations() error = %v", err)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Timestamp.Before(sorted[i-1].Timestamp) {
			t.Fatalf("sorted[%d] before sorted[%d]", i, i-1)
		}
	}
	if !in[0].Timestamp.Equal(at(0, 12, 0)) {
		t.Error("sortObservations() modified its input")
	}

	_, err = sortObservations([]models.Observation{{StoreID: "s1", Status: models.StatusActive}})
	if !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("sortObservations() error = %v, want ErrInvalidObservation", err)
	}
}
