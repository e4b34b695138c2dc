package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true, and no
// new report runs are accepted.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

// Runs tracks background report runs so shutdown can wait for them.
type Runs struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	running int
	closed  bool
}

// Start registers a run. It returns false once shutdown has begun or Close
// was called; the caller must not start the run then. On success the
// returned func must be called exactly once when the run ends.
func (r *Runs) Start() (done func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || IsShuttingDown() {
		return nil, false
	}
	r.running++
	r.wg.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.running--
			r.mu.Unlock()
			r.wg.Done()
		})
	}, true
}

// Running returns the number of runs in progress.
func (r *Runs) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Close stops new runs from starting.
func (r *Runs) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Wait closes the tracker and blocks until every run has finished or ctx is
// done, returning ctx.Err() in the latter case.
func (r *Runs) Wait(ctx context.Context) error {
	r.Close()
	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
