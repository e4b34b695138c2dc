package service

import (
	"context"
	"errors"

	"github.com/kjstillabower/store-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/store-monitor/internal/observability"
	"github.com/kjstillabower/store-monitor/internal/store"
	"github.com/kjstillabower/store-monitor/internal/uptime"
)

// FailureCategory is a stable label for why a store could not be computed.
type FailureCategory string

const (
	FailureNotFound           FailureCategory = "not_found"
	FailureInvalidSchedule    FailureCategory = "invalid_schedule"
	FailureInvalidObservation FailureCategory = "invalid_observation"
	FailureCircuitOpen        FailureCategory = "circuit_open"
	FailureTimeout            FailureCategory = "timeout"
	FailureCanceled           FailureCategory = "canceled"
	FailureDatabaseBusy       FailureCategory = "database_busy"
	FailureUnknown            FailureCategory = "unknown"
)

// CategorizeError maps a per-store error to a FailureCategory.
func CategorizeError(err error) FailureCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, store.ErrNotFound):
		return FailureNotFound
	case errors.Is(err, uptime.ErrInvalidSchedule):
		return FailureInvalidSchedule
	case errors.Is(err, uptime.ErrInvalidObservation):
		return FailureInvalidObservation
	case errors.Is(err, circuitbreaker.ErrOpen):
		return FailureCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	case isTransient(err):
		return FailureDatabaseBusy
	default:
		return FailureUnknown
	}
}

func recordFailure(err error) {
	observability.StoreFailuresTotal.WithLabelValues(string(CategorizeError(err))).Inc()
}
