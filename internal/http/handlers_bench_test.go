package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/store-monitor/internal/models"
	"github.com/kjstillabower/store-monitor/internal/service"
	"github.com/kjstillabower/store-monitor/internal/testhelpers"
)

// setupBenchmarkRouter seeds a store with a week of hourly polls and returns the full router.
func setupBenchmarkRouter(b *testing.B, cfg RouterConfig) (*mux.Router, *Handler) {
	b.Helper()
	db := testhelpers.OpenDB(b)
	var polls []models.Observation
	for h := 0; h < 7*24; h++ {
		status := models.StatusActive
		if h%5 == 0 {
			status = models.StatusInactive
		}
		polls = append(polls, testhelpers.Poll(testhelpers.At(0, h, 7), status))
	}
	var sched []models.ScheduleEntry
	for d := models.Weekday(0); d < 7; d++ {
		sched = append(sched, testhelpers.Hours(d, 8, 22))
	}
	testhelpers.SeedStore(b, db, "bench", "America/Chicago", sched, polls...)

	svc, _ := testhelpers.NewService(b, db, testhelpers.ServiceOptions{})
	handler := NewHandler(svc, service.NewStoreCatalog(db, nil), &HealthConfig{DBPing: db.Ping}, zap.NewNop())
	return NewRouter(handler, cfg, zap.NewNop()), handler
}

// createBenchmarkRequest creates an HTTP request for benchmarking.
func createBenchmarkRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req = req.WithContext(context.WithValue(req.Context(), "correlation_id", "bench-id"))
	req = req.WithContext(context.WithValue(req.Context(), "logger", zap.NewNop()))
	return req
}

// BenchmarkHandler_GetStoreUptime benchmarks a synchronous single-store computation.
func BenchmarkHandler_GetStoreUptime(b *testing.B) {
	router, _ := setupBenchmarkRouter(b, RouterConfig{RequestTimeout: 5 * time.Second})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, createBenchmarkRequest("GET", "/stores/bench/uptime?now=2023-01-30T00:00:00Z"))
		if w.Code != http.StatusOK {
			b.Fatalf("status = %d", w.Code)
		}
	}
}

// BenchmarkHandler_GetReport_CacheHit benchmarks status polling served from cache.
func BenchmarkHandler_GetReport_CacheHit(b *testing.B) {
	router, handler := setupBenchmarkRouter(b, RouterConfig{})
	rep, err := handler.reports.Trigger(context.Background(), nil)
	if err != nil {
		b.Fatalf("Trigger() error = %v", err)
	}
	path := "/reports/" + rep.ID
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, createBenchmarkRequest("GET", path))
	}
}

// BenchmarkHandler_GetStoreUptime_ValidationError benchmarks the rejection path.
func BenchmarkHandler_GetStoreUptime_ValidationError(b *testing.B) {
	router, _ := setupBenchmarkRouter(b, RouterConfig{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, createBenchmarkRequest("GET", "/stores/bad$id/uptime"))
	}
}

// BenchmarkHandler_PostReport_RateLimited benchmarks the 429 path.
func BenchmarkHandler_PostReport_RateLimited(b *testing.B) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 0)
	router, _ := setupBenchmarkRouter(b, RouterConfig{Limiter: limiter})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, createBenchmarkRequest("POST", "/reports"))
	}
}

// BenchmarkHandler_GetHealth benchmarks the health endpoint.
func BenchmarkHandler_GetHealth(b *testing.B) {
	_, handler := setupBenchmarkRouter(b, RouterConfig{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handler.GetHealth(w, createBenchmarkRequest("GET", "/health"))
	}
}
