package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/cache"
	"github.com/kjstillabower/store-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/store-monitor/internal/config"
	"github.com/kjstillabower/store-monitor/internal/lifecycle"
	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/observability"
	"github.com/kjstillabower/store-monitor/internal/report"
	"github.com/kjstillabower/store-monitor/internal/store"
	"github.com/kjstillabower/store-monitor/internal/traffic"
	"github.com/kjstillabower/store-monitor/internal/uptime"
)

// ErrShuttingDown is returned by Trigger once shutdown has begun.
var ErrShuttingDown = errors.New("service is shutting down")

// ErrReportNotReady is returned when a report's export is requested before it completes.
var ErrReportNotReady = errors.New("report not ready")

// lookback covers the longest window; one observation before it is loaded too.
const lookback = 7 * 24 * time.Hour

// Store is the persistence the service needs. Implemented by *store.DB.
type Store interface {
	ListStoreIDs(ctx context.Context, after string, limit int) ([]string, error)
	LoadInput(ctx context.Context, id string, since, until time.Time) (uptime.Input, error)
	LatestObservationTime(ctx context.Context) (time.Time, bool, error)
	CreateReport(ctx context.Context, r models.Report) error
	UpdateReport(ctx context.Context, r models.Report) error
	GetReport(ctx context.Context, id string) (models.Report, error)
}

// Options configures report runs.
type Options struct {
	ReportDir     string
	Workers       int
	PageSize      int
	MaxStores     int // 0 means all stores
	ReferenceTime string
	Compress      bool
	CacheTTL      time.Duration
	LoadTimeout   time.Duration

	// Transient database errors (locked, busy) are retried inside one
	// breaker call with exponential backoff.
	LoadRetries   int
	LoadRetryBase time.Duration
	LoadRetryMax  time.Duration
}

// ReportService runs uptime reports in the background and serves their
// status cache-aside. Store loads go through the circuit breaker so a sick
// database fails a run quickly instead of timing out per store.
type ReportService struct {
	store   Store
	cache   cache.Cache
	breaker *circuitbreaker.CircuitBreaker
	runner  *uptime.Runner
	runs    *lifecycle.Runs
	lookups *coalescer[models.Report]
	retry   retryPolicy
	opts    Options
	logger  *zap.Logger
	now     func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewReportService creates a ReportService. runs may be shared with main so
// shutdown can wait for in-progress reports.
func NewReportService(st Store, c cache.Cache, breaker *circuitbreaker.CircuitBreaker, runs *lifecycle.Runs, opts Options, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 2 * time.Second
	}
	if opts.LoadRetries <= 0 {
		opts.LoadRetries = 3
	}
	if opts.LoadRetryBase <= 0 {
		opts.LoadRetryBase = 50 * time.Millisecond
	}
	if opts.LoadRetryMax <= 0 {
		opts.LoadRetryMax = time.Second
	}
	if opts.ReferenceTime == "" {
		opts.ReferenceTime = config.ReferenceLatestObservation
	}
	if runs == nil {
		runs = &lifecycle.Runs{}
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.Config{Component: "store_db"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReportService{
		store:   st,
		cache:   c,
		breaker: breaker,
		runner:  uptime.NewRunner(opts.Workers, logger),
		runs:    runs,
		lookups: newCoalescer[models.Report](opts.LoadTimeout),
		retry:   retryPolicy{attempts: opts.LoadRetries, baseDelay: opts.LoadRetryBase, maxDelay: opts.LoadRetryMax},
		opts:    opts,
		logger:  logger,
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// loggerFromContext extracts the request-scoped logger, falling back to fallback.
func loggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return fallback
}

// Trigger starts a report run and returns immediately with the running
// report. ref overrides the configured reference time when non-nil.
func (s *ReportService) Trigger(ctx context.Context, ref *time.Time) (models.Report, error) {
	logger := loggerFromContext(ctx, s.logger)
	done, ok := s.runs.Start()
	if !ok {
		return models.Report{}, ErrShuttingDown
	}

	refTime, err := s.referenceTime(ctx, ref)
	if err != nil {
		done()
		return models.Report{}, err
	}
	r := models.Report{
		ID:            uuid.NewString(),
		Status:        models.ReportRunning,
		CreatedAt:     s.now().UTC(),
		ReferenceTime: refTime,
	}
	if err := s.store.CreateReport(ctx, r); err != nil {
		done()
		return models.Report{}, fmt.Errorf("create report: %w", err)
	}
	s.cacheSet(ctx, r)

	logger.Info("report triggered", zap.String("report_id", r.ID), zap.Time("reference_time", refTime))
	observability.ReportsRunning.Inc()
	go func() {
		defer done()
		defer observability.ReportsRunning.Dec()
		s.run(s.baseCtx, r)
	}()
	return r, nil
}

// Get returns a report's status: cache first, then the store, with
// concurrent misses for the same report collapsed into one read.
func (s *ReportService) Get(ctx context.Context, id string) (models.Report, error) {
	r, ok, err := s.cache.Get(ctx, id)
	switch {
	case err != nil:
		observability.ReportCacheLookupsTotal.WithLabelValues("error").Inc()
		loggerFromContext(ctx, s.logger).Warn("report cache get failed", zap.String("report_id", id), zap.Error(err))
	case ok:
		observability.ReportCacheLookupsTotal.WithLabelValues("hit").Inc()
		return r, nil
	default:
		observability.ReportCacheLookupsTotal.WithLabelValues("miss").Inc()
	}

	r, _, err = s.lookups.Do(ctx, id, func(ctx context.Context) (models.Report, error) {
		return s.store.GetReport(ctx, id)
	})
	if err != nil {
		return models.Report{}, err
	}
	s.cacheSet(ctx, r)
	return r, nil
}

// ExportPath returns the file path of a completed report.
func (s *ReportService) ExportPath(ctx context.Context, id string) (string, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if r.Status != models.ReportComplete || r.FilePath == "" {
		return "", fmt.Errorf("report %s is %s: %w", id, r.Status, ErrReportNotReady)
	}
	return r.FilePath, nil
}

// ComputeStore computes one store synchronously. ref overrides the
// configured reference time when non-nil.
func (s *ReportService) ComputeStore(ctx context.Context, storeID string, ref *time.Time) (models.ReportRow, time.Time, error) {
	refTime, err := s.referenceTime(ctx, ref)
	if err != nil {
		return models.ReportRow{}, time.Time{}, err
	}
	in, err := s.loadInput(ctx, storeID, refTime)
	if err != nil {
		recordFailure(err)
		return models.ReportRow{}, refTime, err
	}
	res, err := uptime.Aggregate(in, refTime)
	if err != nil {
		traffic.RecordFailed(1)
		recordFailure(err)
		return models.ReportRow{}, refTime, err
	}
	traffic.RecordComputed(1)
	if res.TimezoneFallback {
		observability.TimezoneFallbacksTotal.Inc()
	}
	return report.RowFromResult(res), refTime, nil
}

// Close cancels report runs still in progress. Call after draining.
func (s *ReportService) Close() {
	s.cancel()
}

// Breaker exposes the store circuit breaker for health reporting.
func (s *ReportService) Breaker() *circuitbreaker.CircuitBreaker {
	return s.breaker
}

func (s *ReportService) referenceTime(ctx context.Context, ref *time.Time) (time.Time, error) {
	if ref != nil {
		return ref.UTC(), nil
	}
	if s.opts.ReferenceTime == config.ReferenceWallClock {
		return s.now().UTC(), nil
	}
	latest, ok, err := s.store.LatestObservationTime(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("resolve reference time: %w", err)
	}
	if !ok {
		return s.now().UTC(), nil
	}
	return latest, nil
}

func (s *ReportService) loadInput(ctx context.Context, storeID string, refTime time.Time) (uptime.Input, error) {
	var (
		in      uptime.Input
		dataErr error
	)
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		return s.retry.do(ctx, func(ctx context.Context) error {
			loadCtx, cancel := context.WithTimeout(ctx, s.opts.LoadTimeout)
			defer cancel()
			var err error
			in, err = s.store.LoadInput(loadCtx, storeID, refTime.Add(-lookback), refTime)
			if isDataError(err) {
				// bad rows for this store, not a sick database
				dataErr = err
				return nil
			}
			return err
		})
	})
	switch {
	case err == nil:
		observability.StoreLoadsTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, circuitbreaker.ErrOpen):
		observability.StoreLoadsTotal.WithLabelValues("rejected").Inc()
		return uptime.Input{}, err
	default:
		observability.StoreLoadsTotal.WithLabelValues("error").Inc()
		return uptime.Input{}, fmt.Errorf("load store %s: %w", storeID, err)
	}
	if dataErr != nil {
		return uptime.Input{}, dataErr
	}
	return in, nil
}

func isDataError(err error) bool {
	return errors.Is(err, store.ErrNotFound) ||
		errors.Is(err, uptime.ErrInvalidSchedule) ||
		errors.Is(err, uptime.ErrInvalidObservation)
}

func (s *ReportService) cacheSet(ctx context.Context, r models.Report) {
	if err := s.cache.Set(ctx, r.ID, r, s.opts.CacheTTL); err != nil {
		loggerFromContext(ctx, s.logger).Warn("report cache set failed", zap.String("report_id", r.ID), zap.Error(err))
	}
}
