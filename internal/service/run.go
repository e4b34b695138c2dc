package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/export"
	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/observability"
	"github.com/kjstillabower/store-monitor/internal/report"
	"github.com/kjstillabower/store-monitor/internal/traffic"
	"github.com/kjstillabower/store-monitor/internal/uptime"
)

// run computes every store page by page, exports the rows and records the
// final status. No partial results are visible while it runs.
func (s *ReportService) run(ctx context.Context, r models.Report) {
	start := time.Now()
	logger := s.logger.With(zap.String("report_id", r.ID))
	logger.Info("report run started", zap.Time("reference_time", r.ReferenceTime))

	outcomes, err := s.computeAll(ctx, r.ReferenceTime, logger)
	if err == nil {
		var rows []models.ReportRow
		rows, r.FailureCount = report.Rows(outcomes)
		for _, o := range outcomes {
			if o.Failure != nil {
				recordFailure(o.Failure.Err)
			}
		}
		r.StoreCount = len(rows)
		r.FilePath, err = export.WriteFile(s.opts.ReportDir, r.ID, rows, s.opts.Compress)
		traffic.RecordComputed(r.StoreCount - r.FailureCount)
		traffic.RecordFailed(r.FailureCount)
	}

	completed := s.now().UTC()
	r.CompletedAt = &completed
	if err != nil {
		r.Status = models.ReportFailed
		r.Error = err.Error()
		logger.Error("report run failed", zap.Error(err))
	} else {
		r.Status = models.ReportComplete
		logger.Info("report run complete",
			zap.Int("stores", r.StoreCount),
			zap.Int("failures", r.FailureCount),
			zap.String("file", r.FilePath),
			zap.Duration("duration", time.Since(start)))
	}
	observability.ReportRunsTotal.WithLabelValues(string(r.Status)).Inc()
	observability.ReportRunDuration.Observe(time.Since(start).Seconds())

	// Persist even if the run was canceled so the report does not stay running.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateReport(saveCtx, r); err != nil {
		logger.Error("report status update failed", zap.Error(err))
	}
	s.cacheSet(saveCtx, r)
}

// computeAll walks store IDs in pages of PageSize, capped at MaxStores, and
// returns one outcome per store in ID order. Load failures become failure
// markers; only listing errors and cancellation abort the run.
func (s *ReportService) computeAll(ctx context.Context, refTime time.Time, logger *zap.Logger) ([]uptime.Outcome, error) {
	var outcomes []uptime.Outcome
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("canceled: %w", err)
		}
		limit := s.opts.PageSize
		if s.opts.MaxStores > 0 {
			remaining := s.opts.MaxStores - len(outcomes)
			if remaining <= 0 {
				break
			}
			limit = min(limit, remaining)
		}
		ids, err := s.store.ListStoreIDs(ctx, after, limit)
		if err != nil {
			return nil, fmt.Errorf("list stores: %w", err)
		}
		if len(ids) == 0 {
			break
		}
		outcomes = append(outcomes, s.computePage(ctx, ids, refTime)...)
		after = ids[len(ids)-1]
		logger.Debug("report page computed", zap.Int("stores_done", len(outcomes)))
		if len(ids) < limit {
			break
		}
	}
	return outcomes, nil
}

// computePage loads each store then runs the engine on the loaded ones,
// merging results back into ID order.
func (s *ReportService) computePage(ctx context.Context, ids []string, refTime time.Time) []uptime.Outcome {
	out := make([]uptime.Outcome, len(ids))
	inputs := make([]uptime.Input, 0, len(ids))
	slots := make([]int, 0, len(ids))
	for i, id := range ids {
		in, err := s.loadInput(ctx, id, refTime)
		if err != nil {
			out[i] = uptime.Failed(id, err)
			continue
		}
		inputs = append(inputs, in)
		slots = append(slots, i)
	}
	for j, o := range s.runner.Run(ctx, inputs, refTime) {
		out[slots[j]] = o
	}
	return out
}
