package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/store"
	"github.com/kjstillabower/store-monitor/internal/validation"
)

func newTestCatalog(t *testing.T) (*StoreCatalog, *observer.ObservedLogs) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	core, logs := observer.New(zap.InfoLevel)
	return NewStoreCatalog(db, zap.New(core)), logs
}

func TestStoreCatalog_Lifecycle(t *testing.T) {
	c, logs := newTestCatalog(t)
	ctx := context.Background()

	created, err := c.Create(ctx, models.Store{ID: "s1"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.Timezone != "UTC" {
		t.Errorf("created timezone = %q, want UTC", created.Timezone)
	}
	if _, err := c.Create(ctx, models.Store{ID: "s1"}); !errors.Is(err, store.ErrExists) {
		t.Errorf("Create() duplicate error = %v, want ErrExists", err)
	}
	if _, err := c.Update(ctx, models.Store{ID: "s1", Timezone: "Asia/Kolkata"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := c.Get(ctx, "s1")
	if err != nil || got.Timezone != "Asia/Kolkata" {
		t.Errorf("Get() = %+v, %v; want Asia/Kolkata", got, err)
	}
	if err := c.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := c.Get(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	for _, msg := range []string{"store created", "store updated", "store deleted"} {
		if logs.FilterMessage(msg).Len() != 1 {
			t.Errorf("expected one %q log", msg)
		}
	}
}

func TestStoreCatalog_Validation(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	if _, err := c.Create(ctx, models.Store{ID: "s1", Timezone: "Mars/Olympus_Mons"}); !errors.Is(err, ErrInvalidTimezone) {
		t.Errorf("Create() bad timezone error = %v, want ErrInvalidTimezone", err)
	}
	if _, err := c.Create(ctx, models.Store{ID: "bad id"}); !errors.Is(err, validation.ErrStoreIDInvalidChars) {
		t.Errorf("Create() bad id error = %v, want ErrStoreIDInvalidChars", err)
	}
	if _, err := c.Update(ctx, models.Store{ID: "ghost", Timezone: "UTC"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Update() missing error = %v, want ErrNotFound", err)
	}
	if err := c.Delete(ctx, ""); !errors.Is(err, validation.ErrStoreIDEmpty) {
		t.Errorf("Delete() empty id error = %v, want ErrStoreIDEmpty", err)
	}
}

func TestStoreCatalog_ListClampsLimit(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	empty, next, err := c.List(ctx, "", 0)
	if err != nil || empty == nil || len(empty) != 0 || next != "" {
		t.Fatalf("List() on empty catalog = %v, %v; want empty non-nil slice", empty, err)
	}
	for i := 0; i < 105; i++ {
		if _, err := c.Create(ctx, models.Store{ID: fmt.Sprintf("s%03d", i)}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	tests := []struct {
		limit    int
		want     int
		wantNext string
	}{
		{0, 100, "s099"},
		{-3, 100, "s099"},
		{5, 5, "s004"},
		{5000, 105, ""},
	}
	for _, tc := range tests {
		got, next, err := c.List(ctx, "", tc.limit)
		if err != nil {
			t.Fatalf("List(limit %d) error = %v", tc.limit, err)
		}
		if len(got) != tc.want || next != tc.wantNext {
			t.Errorf("List(limit %d) = %d stores, next %q; want %d, %q", tc.limit, len(got), next, tc.want, tc.wantNext)
		}
	}
	if rest, next, _ := c.List(ctx, "s099", 0); len(rest) != 5 || next != "" {
		t.Errorf("List(after s099) = %d stores, next %q; want 5, \"\"", len(rest), next)
	}
}
