package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit rejects work.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards a dependency (the store database) by opening after
// consecutive failures and letting probe calls through once the cooldown
// has elapsed.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	component        string
	onStateChange    func(component string, from, to State)
	now              func() time.Time
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	Component        string
	// OnStateChange is called outside the lock after every transition.
	OnStateChange func(component string, from, to State)
}

// New creates a new CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldown:         cfg.Cooldown,
		component:        cfg.Component,
		onStateChange:    cfg.OnStateChange,
		now:              time.Now,
	}
}

// Call runs fn when the circuit allows it. While open, Call returns ErrOpen
// until the cooldown elapses, then moves to half-open and lets calls probe.
// A failure after the caller's ctx is done is not counted against the
// dependency.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var events []transition
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			cb.mu.Unlock()
			return fmt.Errorf("%s: %w", cb.component, ErrOpen)
		}
		events = cb.transitionLocked(events, StateHalfOpen)
	}
	cb.mu.Unlock()
	cb.emit(events)

	err := fn(ctx)

	events = events[:0]
	cb.mu.Lock()
	switch {
	case err == nil:
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				events = cb.transitionLocked(events, StateClosed)
			}
		}
	case ctx.Err() != nil:
		// caller gave up
	default:
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.openedAt = cb.now()
			events = cb.transitionLocked(events, StateOpen)
		}
	}
	cb.mu.Unlock()
	cb.emit(events)
	return err
}

type transition struct{ from, to State }

func (cb *CircuitBreaker) transitionLocked(events []transition, to State) []transition {
	from := cb.state
	if from == to {
		return events
	}
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	return append(events, transition{from, to})
}

func (cb *CircuitBreaker) emit(events []transition) {
	if cb.onStateChange == nil {
		return
	}
	for _, t := range events {
		cb.onStateChange(cb.component, t.from, t.to)
	}
}

// State returns the current state (for metrics and health).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Component returns the guarded component name.
func (cb *CircuitBreaker) Component() string {
	return cb.component
}
