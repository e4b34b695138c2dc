// Package testhelpers builds seeded databases and services for handler and
// end-to-end tests.
package testhelpers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/cache"
	"github.com/kjstillabower/store-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/store-monitor/internal/lifecycle"
	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/service"
	"github.com/kjstillabower/store-monitor/internal/store"
)

// Monday is 2023-01-23 00:00 UTC, a Monday (schedule day 0).
var Monday = time.Date(2023, 1, 23, 0, 0, 0, 0, time.UTC)

// At returns Monday plus day days, hour hours and minute minutes.
func At(day, hour, minute int) time.Time {
	return Monday.Add(time.Duration(day)*24*time.Hour + time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// OpenDB opens a fresh database in a temp dir, closed on cleanup.
func OpenDB(t testing.TB) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "store-monitor.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// SeedStore inserts one store with its hours and observations.
func SeedStore(t testing.TB, db *store.DB, id, tz string, sched []models.ScheduleEntry, obs ...models.Observation) {
	t.Helper()
	ctx := context.Background()
	if err := db.UpsertStores(ctx, []models.Store{{ID: id, Timezone: tz}}); err != nil {
		t.Fatalf("UpsertStores() error = %v", err)
	}
	for i := range sched {
		sched[i].StoreID = id
	}
	if err := db.InsertScheduleEntries(ctx, sched); err != nil {
		t.Fatalf("InsertScheduleEntries() error = %v", err)
	}
	for i := range obs {
		obs[i].StoreID = id
	}
	if err := db.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("InsertObservations() error = %v", err)
	}
}

// Hours returns a schedule entry open from start to end (whole hours) on day.
func Hours(day models.Weekday, start, end int) models.ScheduleEntry {
	return models.ScheduleEntry{Day: day, Start: models.ClockTime{Hour: start}, End: models.ClockTime{Hour: end}}
}

// Poll returns an observation at ts. SeedStore fills in the store ID.
func Poll(ts time.Time, status models.Status) models.Observation {
	return models.Observation{Timestamp: ts, Status: status}
}

// ServiceOptions tweaks NewService. Zero value uses an in-memory cache.
type ServiceOptions struct {
	Cache   cache.Cache
	Breaker *circuitbreaker.CircuitBreaker
	Options service.Options
	Logger  *zap.Logger
}

// NewService builds a ReportService over db writing exports to a temp dir.
// The returned Runs lets tests wait for background report runs.
func NewService(t testing.TB, db *store.DB, opts ServiceOptions) (*service.ReportService, *lifecycle.Runs) {
	t.Helper()
	if opts.Cache == nil {
		opts.Cache = cache.NewInMemoryCache()
	}
	if opts.Options.ReportDir == "" {
		opts.Options.ReportDir = t.TempDir()
	}
	if opts.Options.Workers == 0 {
		opts.Options.Workers = 2
	}
	runs := &lifecycle.Runs{}
	svc := service.NewReportService(db, opts.Cache, opts.Breaker, runs, opts.Options, opts.Logger)
	t.Cleanup(svc.Close)
	return svc, runs
}

// WaitRuns blocks until every background report run has finished.
func WaitRuns(t testing.TB, runs *lifecycle.Runs) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runs.Wait(ctx); err != nil {
		t.Fatalf("report runs did not finish: %v", err)
	}
}

// MemcachedAddr returns MEMCACHED_ADDRS, skipping the test when unset.
func MemcachedAddr(t testing.TB) string {
	t.Helper()
	addr := os.Getenv("MEMCACHED_ADDRS")
	if addr == "" {
		t.Skip("MEMCACHED_ADDRS not set, skipping integration test")
	}
	return addr
}
