package cache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/store-monitor/internal/models"
)

type mockReportLoader struct {
	reports map[string]models.Report
}

func (m *mockReportLoader) GetReport(ctx context.Context, id string) (models.Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return models.Report{}, errors.New("not found")
	}
	return r, nil
}

func TestWarmer_Warm_Success(t *testing.T) {
	loader := &mockReportLoader{reports: map[string]models.Report{"a": testReport("a"), "b": testReport("b")}}
	c := NewInMemoryCache()
	ctx := context.Background()

	if err := NewWarmer(loader, c, time.Minute, nil).Warm(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, ok, _ := c.Get(ctx, id); !ok {
			t.Errorf("report %s not cached after Warm()", id)
		}
	}
}

func TestWarmer_Warm_Empty(t *testing.T) {
	w := NewWarmer(&mockReportLoader{}, NewInMemoryCache(), time.Minute, nil)
	if err := w.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm(nil) error = %v, want nil", err)
	}
}

func TestWarmer_Warm_PartialFailure(t *testing.T) {
	loader := &mockReportLoader{reports: map[string]models.Report{"a": testReport("a")}}
	c := NewInMemoryCache()

	err := NewWarmer(loader, c, time.Minute, nil).Warm(context.Background(), []string{"a", "missing"})
	if err == nil || !strings.Contains(err.Error(), "warm missing") {
		t.Fatalf("Warm() error = %v, want failure for missing", err)
	}
	if _, ok, _ := c.Get(context.Background(), "a"); !ok {
		t.Error("successful report should still be cached")
	}
}
