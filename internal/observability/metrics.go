package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/store-monitor/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Per-store estimate outcomes (ok, failed, canceled). Watch for: failed ratio.
	StoreComputationsTotal *prometheus.CounterVec

	// Time to compute all three windows for one store.
	StoreComputationDuration prometheus.Histogram

	// Stores whose timezone could not be resolved and were computed in UTC.
	TimezoneFallbacksTotal prometheus.Counter

	// Report runs by final status (complete, failed).
	ReportRunsTotal *prometheus.CounterVec

	// Wall time of a full report run. Watch for: growth with store count.
	ReportRunDuration prometheus.Histogram

	// Report runs currently executing.
	ReportsRunning prometheus.Gauge

	// Store input loads by result (ok, error, rejected). Rejected = circuit open.
	StoreLoadsTotal *prometheus.CounterVec

	// Store loads retried after a transient database error (locked, busy).
	StoreLoadRetriesTotal prometheus.Counter

	// Failed stores by category. Watch for: database vs data-quality causes.
	StoreFailuresTotal *prometheus.CounterVec

	// Report status cache lookups by result (hit, miss, error).
	ReportCacheLookupsTotal *prometheus.CounterVec

	// CSV ingestion rows by kind (stores, hours, status) and outcome (loaded, skipped).
	IngestRowsTotal *prometheus.CounterVec

	// Rate limit denials on report triggering.
	RateLimitDeniedTotal prometheus.Counter

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// In-flight HTTP requests observed when shutdown starts.
	ShutdownInFlight prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	StoreComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeComputationsTotal",
			Help: "Per-store uptime computations by outcome",
		},
		[]string{"outcome"},
	)
	StoreComputationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storeComputationDurationSeconds",
			Help:    "Time to compute hour, day and week windows for one store",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)
	TimezoneFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timezoneFallbacksTotal",
			Help: "Stores computed in UTC because their timezone was not recognised",
		},
	)
	ReportRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportRunsTotal",
			Help: "Report runs by final status",
		},
		[]string{"status"},
	)
	ReportRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reportRunDurationSeconds",
			Help:    "Wall time of a full report run",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	ReportsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reportsRunning",
			Help: "Report runs currently executing",
		},
	)
	StoreLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeLoadsTotal",
			Help: "Store input loads from the database by result",
		},
		[]string{"result"},
	)
	StoreLoadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storeLoadRetriesTotal",
			Help: "Store loads retried after a transient database error",
		},
	)
	StoreFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storeFailuresTotal",
			Help: "Stores that could not be computed, by failure category",
		},
		[]string{"category"},
	)
	ReportCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportCacheLookupsTotal",
			Help: "Report status cache lookups by result",
		},
		[]string{"result"},
	)
	IngestRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestRowsTotal",
			Help: "CSV rows processed by the loader",
		},
		[]string{"kind", "outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	ShutdownInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight HTTP requests when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		StoreComputationsTotal, StoreComputationDuration, TimezoneFallbacksTotal,
		ReportRunsTotal, ReportRunDuration, ReportsRunning,
		StoreLoadsTotal, StoreLoadRetriesTotal, StoreFailuresTotal,
		ReportCacheLookupsTotal, IngestRowsTotal,
		RateLimitDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		ShutdownInFlight,
	)
}

// RegisterRateLimitGauges registers the sliding-window gauges for the report
// trigger path. Call once from main with the health window.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting report triggers",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "storeFailuresInWindow",
					Help: "Failed store computations in sliding window",
				},
				func() float64 {
					failed, _ := traffic.FailureRate(window)
					return float64(failed)
				},
			),
		)
	})
}

// SetCircuitBreakerState records the numeric state for component.
func SetCircuitBreakerState(component string, state int) {
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// RecordCircuitBreakerTransition counts a state change for component.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// RecordShutdownInFlight records in-flight requests at shutdown start.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlight.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
