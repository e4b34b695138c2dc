package uptime

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/store-monitor/internal/models"
)

// TestRunner_Run_PreservesOrderAndIsolatesFailures verifies outcomes come back
// in input order and a broken store does not stop the others.
func TestRunner_Run_PreservesOrderAndIsolatesFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewRunner(4, zap.New(core))

	var inputs []Input
	for i := 0; i < 25; i++ {
		in := Input{
			Store:        models.Store{ID: fmt.Sprintf("store-%02d", i)},
			Schedule:     mondayNineToFive(),
			Observations: []models.Observation{obs(at(0, 9, 0), models.StatusActive)},
		}
		if i == 7 {
			in.Schedule = []models.ScheduleEntry{entry(0, 17, 9)}
		}
		inputs = append(inputs, in)
	}

	out := r.Run(context.Background(), inputs, at(0, 12, 0))
	if len(out) != len(inputs) {
		t.Fatalf("len(outcomes) = %d, want %d", len(out), len(inputs))
	}
	for i, o := range out {
		if o.StoreID != inputs[i].Store.ID {
			t.Errorf("outcome[%d].StoreID = %q, want %q", i, o.StoreID, inputs[i].Store.ID)
		}
		if i == 7 {
			if o.Failure == nil || o.Result != nil {
				t.Fatalf("outcome[7] = %+v, want failure marker", o)
			}
			if !strings.Contains(o.Failure.Reason, "invalid schedule") {
				t.Errorf("failure reason = %q, want invalid schedule", o.Failure.Reason)
			}
			continue
		}
		if o.Result == nil || o.Failure != nil {
			t.Fatalf("outcome[%d] = %+v, want result", i, o)
		}
		if got := o.Result.Hour.UptimeValue(); !approx(got, 60) {
			t.Errorf("outcome[%d] hour uptime = %v, want 60", i, got)
		}
	}
	if logs.FilterMessage("store computation failed").Len() != 1 {
		t.Errorf("expected one failure log, got %d", logs.FilterMessage("store computation failed").Len())
	}
}

// TestRunner_Run_RecoversPanic verifies a panic inside one store becomes that
// store's failure marker while its neighbours still compute.
func TestRunner_Run_RecoversPanic(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	r := NewRunner(3, zap.New(core))
	r.aggregate = func(in Input, now time.Time) (StoreResult, error) {
		if in.Store.ID == "boom" {
			panic("corrupt schedule index")
		}
		return Aggregate(in, now)
	}

	ids := []string{"a", "boom", "c", "d"}
	inputs := make([]Input, len(ids))
	for i, id := range ids {
		inputs[i] = Input{
			Store:        models.Store{ID: id},
			Schedule:     mondayNineToFive(),
			Observations: []models.Observation{obs(at(0, 9, 0), models.StatusActive)},
		}
	}

	out := r.Run(context.Background(), inputs, at(0, 12, 0))
	if len(out) != len(ids) {
		t.Fatalf("len(outcomes) = %d, want %d", len(out), len(ids))
	}
	for i, o := range out {
		if o.StoreID != ids[i] {
			t.Errorf("outcome[%d].StoreID = %q, want %q", i, o.StoreID, ids[i])
		}
		if ids[i] == "boom" {
			if o.Failure == nil || o.Result != nil {
				t.Fatalf("outcome[%d] = %+v, want failure marker", i, o)
			}
			if !strings.Contains(o.Failure.Reason, "internal error") {
				t.Errorf("failure reason = %q, want internal error", o.Failure.Reason)
			}
			continue
		}
		if o.Result == nil || !approx(o.Result.Hour.UptimeValue(), 60) {
			t.Errorf("outcome[%d] = %+v, want 60 minutes hour uptime", i, o)
		}
	}
	if logs.FilterMessage("store computation panicked").Len() != 1 {
		t.Errorf("expected one panic log, got %d", logs.FilterMessage("store computation panicked").Len())
	}
}

// TestRunner_Run_Canceled verifies a canceled batch still lists every store.
func TestRunner_Run_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inputs := []Input{{Store: models.Store{ID: "a"}}, {Store: models.Store{ID: "b"}}}
	out := NewRunner(2, nil).Run(ctx, inputs, at(0, 12, 0))
	if len(out) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2", len(out))
	}
	for i, o := range out {
		if o.Failure == nil || !strings.Contains(o.Failure.Reason, "canceled") {
			t.Errorf("outcome[%d] = %+v, want canceled failure", i, o)
		}
		if o.StoreID != inputs[i].Store.ID {
			t.Errorf("outcome[%d].StoreID = %q, want %q", i, o.StoreID, inputs[i].Store.ID)
		}
	}
}

// TestRunner_Run_Empty verifies no inputs yields no outcomes.
func TestRunner_Run_Empty(t *testing.T) {
	if out := NewRunner(0, nil).Run(context.Background(), nil, at(0, 0, 0)); len(out) != 0 {
		t.Errorf("len(outcomes) = %d, want 0", len(out))
	}
}
