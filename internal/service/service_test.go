package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/store-monitor/internal/cache"
	"github.com/kjstillabower/store-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/store-monitor/internal/config"
	"github.com/kjstillabower/store-monitor/internal/lifecycle"
	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/store"
	"github.com/kjstillabower/store-monitor/internal/uptime"
)

// Monday 2023-01-23.
var monday = time.Date(2023, 1, 23, 0, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	inputs   map[string]uptime.Input
	loadErr  map[string]error
	listErr  error
	latest   time.Time
	reports  map[string]models.Report
	loads    int
	gets     int
	lastLoad [2]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{inputs: map[string]uptime.Input{}, loadErr: map[string]error{}, reports: map[string]models.Report{}}
}

func (f *fakeStore) addStore(id string, sched []models.ScheduleEntry, obs ...models.Observation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs[id] = uptime.Input{Store: models.Store{ID: id, Timezone: "UTC"}, Schedule: sched, Observations: obs}
	for _, o := range obs {
		if o.Timestamp.After(f.latest) {
			f.latest = o.Timestamp
		}
	}
}

func (f *fakeStore) ListStoreIDs(_ context.Context, after string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var ids []string
	for id := range f.inputs {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeStore) LoadInput(_ context.Context, id string, since, until time.Time) (uptime.Input, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	f.lastLoad = [2]time.Time{since, until}
	if err := f.loadErr[id]; err != nil {
		return uptime.Input{}, err
	}
	in, ok := f.inputs[id]
	if !ok {
		return uptime.Input{}, fmt.Errorf("store %s: %w", id, store.ErrNotFound)
	}
	return in, nil
}

func (f *fakeStore) LatestObservationTime(context.Context) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, !f.latest.IsZero(), nil
}

func (f *fakeStore) CreateReport(_ context.Context, r models.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[r.ID] = r
	return nil
}

func (f *fakeStore) UpdateReport(_ context.Context, r models.Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reports[r.ID]; !ok {
		return store.ErrNotFound
	}
	f.reports[r.ID] = r
	return nil
}

func (f *fakeStore) GetReport(_ context.Context, id string) (models.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	r, ok := f.reports[id]
	if !ok {
		return models.Report{}, fmt.Errorf("report %s: %w", id, store.ErrNotFound)
	}
	return r, nil
}

func nineToFive(day models.Weekday) models.ScheduleEntry {
	return models.ScheduleEntry{Day: day, Start: models.ClockTime{Hour: 9}, End: models.ClockTime{Hour: 17}}
}

func observation(id string, ts time.Time, status models.Status) models.Observation {
	return models.Observation{StoreID: id, Timestamp: ts, Status: status}
}

func newTestService(t *testing.T, st Store, opts Options) (*ReportService, *lifecycle.Runs, *cache.InMemoryCache) {
	t.Helper()
	if opts.ReportDir == "" {
		opts.ReportDir = t.TempDir()
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	runs := &lifecycle.Runs{}
	c := cache.NewInMemoryCache()
	svc := NewReportService(st, c, nil, runs, opts, nil)
	t.Cleanup(svc.Close)
	return svc, runs, c
}

func waitRuns(t *testing.T, runs *lifecycle.Runs) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runs.Wait(ctx); err != nil {
		t.Fatalf("report run did not finish: %v", err)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	return records
}

func TestTrigger_CompletesAndExports(t *testing.T) {
	st := newFakeStore()
	st.addStore("a", []models.ScheduleEntry{nineToFive(0)}, observation("a", monday.Add(9*time.Hour), models.StatusActive))
	st.addStore("b", []models.ScheduleEntry{{Day: 0, Start: models.ClockTime{Hour: 17}, End: models.ClockTime{Hour: 9}}})
	st.addStore("c", nil, observation("c", monday.Add(17*time.Hour), models.StatusActive))

	svc, runs, c := newTestService(t, st, Options{})
	r, err := svc.Trigger(context.Background(), nil)
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if r.Status != models.ReportRunning || r.ID == "" {
		t.Fatalf("Trigger() = %+v, want running report with ID", r)
	}
	if !r.ReferenceTime.Equal(monday.Add(17 * time.Hour)) {
		t.Errorf("ReferenceTime = %v, want latest observation", r.ReferenceTime)
	}
	waitRuns(t, runs)

	got, err := svc.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != models.ReportComplete || got.StoreCount != 3 || got.FailureCount != 1 {
		t.Fatalf("Get() = %+v, want complete with 3 stores and 1 failure", got)
	}
	if cached, ok, _ := c.Get(context.Background(), r.ID); !ok || cached.Status != models.ReportComplete {
		t.Errorf("cached report = %+v, %v; want complete", cached, ok)
	}

	records := readCSV(t, got.FilePath)
	if len(records) != 4 {
		t.Fatalf("export has %d records, want header + 3", len(records))
	}
	if strings.Join(records[1], ",") != "a,60.00,0.00,8.00,0.00,8.00,0.00," {
		t.Errorf("row a = %v", records[1])
	}
	if records[2][0] != "b" || !strings.Contains(records[2][7], "invalid schedule") {
		t.Errorf("row b = %v, want failure marker", records[2])
	}
	if records[3][0] != "c" || records[3][3] != "0.00" || records[3][4] != "24.00" {
		t.Errorf("row c = %v, want 24h downtime over the last day", records[3])
	}
}

func TestTrigger_MaxStoresAndPaging(t *testing.T) {
	st := newFakeStore()
	for _, id := range []string{"s1", "s2", "s3", "s4", "s5"} {
		st.addStore(id, nil)
	}
	svc, runs, _ := newTestService(t, st, Options{PageSize: 2, MaxStores: 3, ReferenceTime: config.ReferenceWallClock})
	r, err := svc.Trigger(context.Background(), nil)
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitRuns(t, runs)

	got, _ := st.GetReport(context.Background(), r.ID)
	if got.StoreCount != 3 {
		t.Errorf("StoreCount = %d, want 3 (capped)", got.StoreCount)
	}
	records := readCSV(t, got.FilePath)
	if records[3][0] != "s3" {
		t.Errorf("last row = %v, want s3", records[3])
	}
}

func TestTrigger_ExplicitReferenceTime(t *testing.T) {
	st := newFakeStore()
	st.addStore("a", nil, observation("a", monday, models.StatusActive))
	svc, runs, _ := newTestService(t, st, Options{})

	ref := monday.Add(48 * time.Hour)
	r, err := svc.Trigger(context.Background(), &ref)
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitRuns(t, runs)
	if !r.ReferenceTime.Equal(ref) {
		t.Errorf("ReferenceTime = %v, want %v", r.ReferenceTime, ref)
	}
	if since, until := st.lastLoad[0], st.lastLoad[1]; !until.Equal(ref) || !since.Equal(ref.Add(-lookback)) {
		t.Errorf("LoadInput range = [%v, %v], want one week ending at %v", since, until, ref)
	}
}

func TestTrigger_ListFailureFailsReport(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	st := newFakeStore()
	st.listErr = errors.New("disk I/O error")
	runs := &lifecycle.Runs{}
	svc := NewReportService(st, cache.NewInMemoryCache(), nil, runs, Options{ReportDir: t.TempDir(), ReferenceTime: config.ReferenceWallClock}, zap.New(core))
	defer svc.Close()

	r, err := svc.Trigger(context.Background(), nil)
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	waitRuns(t, runs)

	got, _ := svc.Get(context.Background(), r.ID)
	if got.Status != models.ReportFailed || !strings.Contains(got.Error, "disk I/O error") || got.CompletedAt == nil {
		t.Errorf("report = %+v, want failed with list error", got)
	}
	if logs.FilterMessage("report run failed").Len() != 1 {
		t.Error("expected a report run failed log")
	}
	if _, err := svc.ExportPath(context.Background(), r.ID); !errors.Is(err, ErrReportNotReady) {
		t.Errorf("ExportPath() error = %v, want ErrReportNotReady", err)
	}
}

func TestTrigger_RefusedDuringShutdown(t *testing.T) {
	svc, runs, _ := newTestService(t, newFakeStore(), Options{})
	runs.Close()
	if _, err := svc.Trigger(context.Background(), nil); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Trigger() error = %v, want ErrShuttingDown", err)
	}
}

func TestTrigger_BreakerOpensOnDatabaseErrors(t *testing.T) {
	st := newFakeStore()
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("s%d", i)
		st.addStore(id, nil)
		st.loadErr[id] = errors.New("disk I/O error")
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, Cooldown: time.Hour, Component: "store_db"})
	runs := &lifecycle.Runs{}
	svc := NewReportService(st, cache.NewInMemoryCache(), breaker, runs, Options{ReportDir: t.TempDir(), ReferenceTime: config.ReferenceWallClock}, nil)
	defer svc.Close()

	r, _ := svc.Trigger(context.Background(), nil)
	waitRuns(t, runs)

	got, _ := st.GetReport(context.Background(), r.ID)
	if got.Status != models.ReportComplete || got.FailureCount != 6 {
		t.Fatalf("report = %+v, want complete with 6 failures", got)
	}
	if st.loads != 2 {
		t.Errorf("LoadInput calls = %d, want 2 before the breaker opened", st.loads)
	}
	records := readCSV(t, got.FilePath)
	if !strings.Contains(records[6][7], "circuit breaker open") {
		t.Errorf("last row error = %q, want breaker rejection", records[6][7])
	}
}

func TestGet_CacheAside(t *testing.T) {
	st := newFakeStore()
	st.reports["r1"] = models.Report{ID: "r1", Status: models.ReportComplete}
	svc, _, c := newTestService(t, st, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.Get(ctx, "r1")
		if err != nil || got.ID != "r1" {
			t.Fatalf("Get() = %+v, %v", got, err)
		}
	}
	if st.gets != 1 {
		t.Errorf("store reads = %d, want 1 (later reads from cache)", st.gets)
	}
	if _, ok, _ := c.Get(ctx, "r1"); !ok {
		t.Error("report not cached after miss")
	}

	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestComputeStore(t *testing.T) {
	st := newFakeStore()
	st.addStore("a", []models.ScheduleEntry{nineToFive(0)},
		observation("a", monday.Add(9*time.Hour), models.StatusActive),
		observation("a", monday.Add(12*time.Hour), models.StatusInactive))
	st.addStore("bad", []models.ScheduleEntry{{Day: 8}})
	svc, _, _ := newTestService(t, st, Options{})
	ctx := context.Background()

	ref := monday.Add(17 * time.Hour)
	row, used, err := svc.ComputeStore(ctx, "a", &ref)
	if err != nil {
		t.Fatalf("ComputeStore() error = %v", err)
	}
	if !used.Equal(ref) {
		t.Errorf("reference time = %v, want %v", used, ref)
	}
	if row.UptimeLastDay != 3 || row.DowntimeLastDay != 5 || row.DowntimeLastHour != 60 {
		t.Errorf("row = %+v, want 3h up, 5h down, 60m down last hour", row)
	}

	if _, _, err := svc.ComputeStore(ctx, "missing", &ref); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("ComputeStore(missing) error = %v, want ErrNotFound", err)
	}
	if _, _, err := svc.ComputeStore(ctx, "bad", &ref); !errors.Is(err, uptime.ErrInvalidSchedule) {
		t.Errorf("ComputeStore(bad) error = %v, want ErrInvalidSchedule", err)
	}
	if svc.Breaker().State() != circuitbreaker.StateClosed {
		t.Error("data errors should not trip the breaker")
	}
}
