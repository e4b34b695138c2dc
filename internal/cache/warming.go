package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// ReportLoader is implemented by the persistence layer. Used by Warmer to
// avoid a dependency on the store package.
type ReportLoader interface {
	GetReport(ctx context.Context, id string) (models.Report, error)
}

// Warmer preloads report statuses into the cache, typically the most recent
// reports at startup so status polls after a restart hit the cache.
type Warmer struct {
	loader ReportLoader
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewWarmer creates a Warmer.
func NewWarmer(loader ReportLoader, c Cache, ttl time.Duration, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{loader: loader, cache: c, ttl: ttl, logger: logger}
}

// Warm loads each report concurrently and stores it in the cache.
// Returns the joined errors of any report that failed.
func (w *Warmer) Warm(ctx context.Context, reportIDs []string) error {
	start := time.Now()
	w.logger.Info("warming report cache", zap.Int("reports", len(reportIDs)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(reportIDs))
	for _, id := range reportIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r, err := w.loader.GetReport(ctx, id)
			if err == nil {
				err = w.cache.Set(ctx, id, r, w.ttl)
			}
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", id, err)
			}
		}(id)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	w.logger.Info("report cache warming complete",
		zap.Int("reports", len(reportIDs)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", time.Since(start).Seconds()))
	return errors.Join(errs...)
}
