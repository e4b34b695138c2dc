package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
}

func TestSetShuttingDown_True(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
}

func TestSetShuttingDown_False(t *testing.T) {
	SetShuttingDown(true)
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}

func TestRuns_StartAndWait(t *testing.T) {
	SetShuttingDown(false)
	var r Runs
	done, ok := r.Start()
	if !ok {
		t.Fatal("Start() ok = false, want true")
	}
	if r.Running() != 1 {
		t.Errorf("Running() = %d, want 1", r.Running())
	}

	waited := make(chan error, 1)
	go func() { waited <- r.Wait(context.Background()) }()

	select {
	case <-waited:
		t.Fatal("Wait() returned before run finished")
	case <-time.After(20 * time.Millisecond):
	}
	done()
	done()
	if err := <-waited; err != nil {
		t.Errorf("Wait() error = %v", err)
	}
	if r.Running() != 0 {
		t.Errorf("Running() = %d, want 0", r.Running())
	}
	if _, ok := r.Start(); ok {
		t.Error("Start() after Wait() ok = true, want false")
	}
}

func TestRuns_WaitTimeout(t *testing.T) {
	SetShuttingDown(false)
	var r Runs
	done, _ := r.Start()
	defer done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
}

func TestRuns_RefusedWhileShuttingDown(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	var r Runs
	if _, ok := r.Start(); ok {
		t.Error("Start() during shutdown ok = true, want false")
	}
}
