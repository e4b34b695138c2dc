// Package ingest bulk-loads stores, business hours and status polls from CSV.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/observability"
	"github.com/kjstillabower/store-monitor/internal/validation"
)

const (
	defaultBatchSize = 5000
	progressEvery    = 50000
)

// Sink receives parsed records. Implemented by *store.DB.
type Sink interface {
	UpsertStores(ctx context.Context, stores []models.Store) error
	EnsureStores(ctx context.Context, ids []string) error
	InsertScheduleEntries(ctx context.Context, entries []models.ScheduleEntry) error
	InsertObservations(ctx context.Context, obs []models.Observation) error
}

// Stats counts rows per load.
type Stats struct {
	Loaded  int
	Skipped int
}

// Loader streams CSV files into a Sink in fixed-size batches.
type Loader struct {
	sink      Sink
	logger    *zap.Logger
	batchSize int
}

// NewLoader creates a Loader. batchSize <= 0 uses 5000.
func NewLoader(sink Sink, logger *zap.Logger, batchSize int) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Loader{sink: sink, logger: logger, batchSize: batchSize}
}

// LoadStores reads store_id,timezone_str. A missing timezone becomes UTC.
func (l *Loader) LoadStores(ctx context.Context, r io.Reader) (Stats, error) {
	var batch []models.Store
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := l.sink.UpsertStores(ctx, batch)
		batch = batch[:0]
		return err
	}
	stats, err := l.each(ctx, "stores", r, []string{"store_id"}, func(rec record) error {
		id := rec.get("store_id")
		if err := validation.ValidateStoreID(id); err != nil {
			return err
		}
		tz := rec.get("timezone_str")
		if tz == "" {
			tz = "UTC"
		}
		batch = append(batch, models.Store{ID: id, Timezone: tz})
		if len(batch) >= l.batchSize {
			return flushErr(flush())
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}

// LoadSchedule reads store_id,day,start_time_local,end_time_local. Stores
// not seen before are created with UTC.
func (l *Loader) LoadSchedule(ctx context.Context, r io.Reader) (Stats, error) {
	var batch []models.ScheduleEntry
	known := newStoreSet(l.sink)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.StoreID
		}
		if err := known.ensure(ctx, ids); err != nil {
			return err
		}
		err := l.sink.InsertScheduleEntries(ctx, batch)
		batch = batch[:0]
		return err
	}
	required := []string{"store_id", "day", "start_time_local", "end_time_local"}
	stats, err := l.each(ctx, "hours", r, required, func(rec record) error {
		e, err := parseScheduleEntry(rec)
		if err != nil {
			return err
		}
		batch = append(batch, e)
		if len(batch) >= l.batchSize {
			return flushErr(flush())
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}

// LoadStatus reads store_id,status,timestamp_utc. Stores not seen before are
// created with UTC.
func (l *Loader) LoadStatus(ctx context.Context, r io.Reader) (Stats, error) {
	var batch []models.Observation
	known := newStoreSet(l.sink)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, o := range batch {
			ids[i] = o.StoreID
		}
		if err := known.ensure(ctx, ids); err != nil {
			return err
		}
		err := l.sink.InsertObservations(ctx, batch)
		batch = batch[:0]
		return err
	}
	stats, err := l.each(ctx, "status", r, []string{"store_id", "status", "timestamp_utc"}, func(rec record) error {
		id := rec.get("store_id")
		if err := validation.ValidateStoreID(id); err != nil {
			return err
		}
		ts, err := ParseTimestamp(rec.get("timestamp_utc"))
		if err != nil {
			return err
		}
		batch = append(batch, models.Observation{StoreID: id, Timestamp: ts, Status: models.ParseStatus(rec.get("status"))})
		if len(batch) >= l.batchSize {
			return flushErr(flush())
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	return stats, flush()
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999 MST",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the poll timestamp formats seen in exports, such as
// "2023-01-22 12:09:39.388884 UTC". Values without a zone are taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}

// parseScheduleEntry only checks that fields parse. Out-of-range weekdays and
// reversed intervals are stored so the report flags that store as failed.
func parseScheduleEntry(rec record) (models.ScheduleEntry, error) {
	e := models.ScheduleEntry{StoreID: rec.get("store_id")}
	if err := validation.ValidateStoreID(e.StoreID); err != nil {
		return e, err
	}
	day, err := strconv.Atoi(rec.get("day"))
	if err != nil {
		return e, fmt.Errorf("parse day %q: %w", rec.get("day"), err)
	}
	e.Day = models.Weekday(day)
	if e.Start, err = models.ParseClock(rec.get("start_time_local")); err != nil {
		return e, err
	}
	if e.End, err = models.ParseClock(rec.get("end_time_local")); err != nil {
		return e, err
	}
	return e, nil
}

// errFlush marks a sink failure, which aborts the load rather than skipping a row.
type errFlush struct{ err error }

func (e errFlush) Error() string { return e.err.Error() }
func (e errFlush) Unwrap() error { return e.err }

func flushErr(err error) error {
	if err == nil {
		return nil
	}
	return errFlush{err}
}

type record struct {
	fields []string
	index  map[string]int
}

func (r record) get(col string) string {
	i, ok := r.index[col]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// each reads the header, then calls fn per row. Rows for which fn returns an
// error are skipped and counted, except sink failures, which stop the load.
func (l *Loader) each(ctx context.Context, kind string, r io.Reader, required []string, fn func(record) error) (Stats, error) {
	var stats Stats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return stats, fmt.Errorf("%s: read header: %w", kind, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return stats, fmt.Errorf("%s: missing column %q", kind, col)
		}
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				stats.Skipped++
				observability.IngestRowsTotal.WithLabelValues(kind, "skipped").Inc()
				l.logger.Debug("skipping malformed row", zap.String("kind", kind), zap.Int("line", line), zap.Error(err))
				continue
			}
			return stats, fmt.Errorf("%s: read line %d: %w", kind, line, err)
		}

		if err := fn(record{fields: fields, index: index}); err != nil {
			var fe errFlush
			if errors.As(err, &fe) {
				return stats, fmt.Errorf("%s: flush at line %d: %w", kind, line, fe.err)
			}
			stats.Skipped++
			observability.IngestRowsTotal.WithLabelValues(kind, "skipped").Inc()
			l.logger.Debug("skipping invalid row", zap.String("kind", kind), zap.Int("line", line), zap.Error(err))
			continue
		}
		stats.Loaded++
		observability.IngestRowsTotal.WithLabelValues(kind, "loaded").Inc()
		if (stats.Loaded+stats.Skipped)%progressEvery == 0 {
			l.logger.Info("ingest progress", zap.String("kind", kind), zap.Int("rows", stats.Loaded+stats.Skipped))
		}
	}
	l.logger.Info("ingest complete", zap.String("kind", kind), zap.Int("loaded", stats.Loaded), zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// storeSet remembers which store IDs have already been ensured.
type storeSet struct {
	sink Sink
	seen map[string]struct{}
}

func newStoreSet(sink Sink) *storeSet {
	return &storeSet{sink: sink, seen: make(map[string]struct{})}
}

func (s *storeSet) ensure(ctx context.Context, ids []string) error {
	var missing []string
	for _, id := range ids {
		if _, ok := s.seen[id]; ok {
			continue
		}
		s.seen[id] = struct{}{}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}
	return s.sink.EnsureStores(ctx, missing)
}
