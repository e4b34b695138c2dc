package traffic

import (
	"sync"
	"time"
)

const maxAge = 30 * time.Minute

var defaultTracker Tracker

// RecordComputed records n stores that produced an estimate.
func RecordComputed(n int) {
	defaultTracker.record(&defaultTracker.computed, n)
}

// RecordFailed records n stores that ended with a failure marker.
func RecordFailed(n int) {
	defaultTracker.record(&defaultTracker.failed, n)
}

// RecordDenied records a rate-limit denial (429) on the report trigger.
func RecordDenied() {
	defaultTracker.record(&defaultTracker.denied, 1)
}

// FailureRate returns (failed, total) store outcomes within the window.
func FailureRate(window time.Duration) (failed, total int) {
	return defaultTracker.FailureRate(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker keeps sliding windows of store outcomes and trigger denials.
// It backs the degraded check in /health and the rate-limit gauges.
type Tracker struct {
	mu       sync.Mutex
	computed []stamp
	failed   []stamp
	denied   []stamp
}

// stamp is n events recorded at one instant; a report run records a whole
// batch at once.
type stamp struct {
	at time.Time
	n  int
}

func (t *Tracker) record(slice *[]stamp, n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	*slice = append(*slice, stamp{at: now, n: n})
	t.pruneLocked(now)
}

// RecordComputed records n computed stores on this tracker.
func (t *Tracker) RecordComputed(n int) { t.record(&t.computed, n) }

// RecordFailed records n failed stores on this tracker.
func (t *Tracker) RecordFailed(n int) { t.record(&t.failed, n) }

// RecordDenied records one denial on this tracker.
func (t *Tracker) RecordDenied() { t.record(&t.denied, 1) }

// FailureRate returns (failed, total) within the window; denials are excluded.
func (t *Tracker) FailureRate(window time.Duration) (failed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	failed = countSince(t.failed, cutoff)
	return failed, failed + countSince(t.computed, cutoff)
}

// DenialCount returns the number of denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.denied, time.Now().Add(-window))
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.computed = nil
	t.failed = nil
	t.denied = nil
}

func countSince(stamps []stamp, cutoff time.Time) int {
	n := 0
	for _, s := range stamps {
		if !s.at.Before(cutoff) {
			n += s.n
		}
	}
	return n
}

// pruneLocked drops stamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	prune := func(slice *[]stamp) {
		stamps := *slice
		i := 0
		for ; i < len(stamps) && stamps[i].at.Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(stamps[:0], stamps[i:]...)
		}
	}
	prune(&t.computed)
	prune(&t.failed)
	prune(&t.denied)
}
