package uptime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/observability"
)

// Failure marks a store whose estimate could not be computed.
type Failure struct {
	StoreID string `json:"store_id"`
	Reason  string `json:"reason"`
	Err     error  `json:"-"`
}

// Outcome is exactly one of Result or Failure for a requested store.
type Outcome struct {
	StoreID string
	Result  *StoreResult
	Failure *Failure
}

// Failed returns an outcome carrying a failure marker for storeID.
func Failed(storeID string, err error) Outcome {
	return Outcome{StoreID: storeID, Failure: &Failure{StoreID: storeID, Reason: err.Error(), Err: err}}
}

// Runner applies Aggregate to a set of stores on a fixed pool of workers.
type Runner struct {
	workers   int
	logger    *zap.Logger
	aggregate func(Input, time.Time) (StoreResult, error)
}

// NewRunner creates a Runner. workers <= 0 means one worker.
func NewRunner(workers int, logger *zap.Logger) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{workers: workers, logger: logger, aggregate: Aggregate}
}

// Run computes every input against the same reference instant and returns
// outcomes in input order. A failing store yields a failure marker and never
// stops the batch. Once ctx is done no further stores are dispatched; those
// stores are reported as failed with the context error.
func (r *Runner) Run(ctx context.Context, inputs []Input, now time.Time) []Outcome {
	out := make([]Outcome, len(inputs))
	if len(inputs) == 0 {
		return out
	}

	workers := r.workers
	if workers > len(inputs) {
		workers = len(inputs)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = r.runOne(inputs[i], now)
			}
		}()
	}

	dispatched := 0
dispatch:
	for ; dispatched < len(inputs); dispatched++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- dispatched:
		}
	}
	close(jobs)
	wg.Wait()

	if dispatched < len(inputs) {
		r.logger.Warn("batch canceled", zap.Int("dispatched", dispatched), zap.Int("total", len(inputs)))
		for i := dispatched; i < len(inputs); i++ {
			out[i] = Failed(inputs[i].Store.ID, fmt.Errorf("canceled: %w", ctx.Err()))
			observability.StoreComputationsTotal.WithLabelValues("canceled").Inc()
		}
	}
	return out
}

// runOne isolates a single store so a panic becomes a failure marker.
func (r *Runner) runOne(in Input, now time.Time) (out Outcome) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("store computation panicked", zap.String("store_id", in.Store.ID), zap.Any("panic", p))
			out = Failed(in.Store.ID, fmt.Errorf("internal error: %v", p))
			observability.StoreComputationsTotal.WithLabelValues("failed").Inc()
		}
		observability.StoreComputationDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := r.aggregate(in, now)
	if err != nil {
		r.logger.Warn("store computation failed", zap.String("store_id", in.Store.ID), zap.Error(err))
		observability.StoreComputationsTotal.WithLabelValues("failed").Inc()
		return Failed(in.Store.ID, err)
	}
	if res.TimezoneFallback {
		r.logger.Debug("unknown timezone, using UTC", zap.String("store_id", in.Store.ID), zap.String("timezone", in.Store.Timezone))
		observability.TimezoneFallbacksTotal.Inc()
	}
	observability.StoreComputationsTotal.WithLabelValues("ok").Inc()
	return Outcome{StoreID: in.Store.ID, Result: &res}
}
