package service

import (
	"context"
	"sync"
	"time"
)

// inFlightCall tracks one load that several callers may wait for.
type inFlightCall[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// coalescer collapses concurrent loads of the same key into one call. Report
// status polls tend to arrive in bursts for the same report right after a
// cache expiry.
type coalescer[T any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightCall[T]
	timeout  time.Duration
}

func newCoalescer[T any](timeout time.Duration) *coalescer[T] {
	return &coalescer[T]{
		inFlight: make(map[string]*inFlightCall[T]),
		timeout:  timeout,
	}
}

// Do returns the result of fn for key, sharing one execution between
// concurrent callers. fn runs detached from any single caller's
// cancellation, bounded by the coalescer timeout. Each caller stops waiting
// when its own ctx is done. shared reports whether the caller joined a call
// started by someone else.
func (c *coalescer[T]) Do(ctx context.Context, key string, fn func(context.Context) (T, error)) (result T, shared bool, err error) {
	c.mu.Lock()
	call, exists := c.inFlight[key]
	if !exists {
		call = &inFlightCall[T]{done: make(chan struct{})}
		c.inFlight[key] = call
		go c.run(ctx, key, call, fn)
	}
	c.mu.Unlock()

	select {
	case <-call.done:
		return call.result, exists, call.err
	case <-ctx.Done():
		var zero T
		return zero, exists, ctx.Err()
	}
}

func (c *coalescer[T]) run(ctx context.Context, key string, call *inFlightCall[T], fn func(context.Context) (T, error)) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	call.result, call.err = fn(runCtx)

	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
	close(call.done)
}
