package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/store-monitor/internal/cache"
	"github.com/kjstillabower/store-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/store-monitor/internal/config"
	httphandler "github.com/kjstillabower/store-monitor/internal/http"
	"github.com/kjstillabower/store-monitor/internal/lifecycle"
	"github.com/kjstillabower/store-monitor/internal/observability"
	"github.com/kjstillabower/store-monitor/internal/service"
	"github.com/kjstillabower/store-monitor/internal/store"
)

const (
	inFlightCheckInterval = 100 * time.Millisecond
	warmRecentReports     = 50
)

func main() {
	logger, err := observability.NewLogger("service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("database", zap.Error(err), zap.String("path", cfg.DBPath))
	}
	// Runs cut off by a previous crash or forced shutdown would poll as running forever.
	if n, err := db.FailInterruptedReports(context.Background(), time.Now().UTC(), "interrupted by restart"); err != nil {
		logger.Error("fail interrupted reports", zap.Error(err))
	} else if n > 0 {
		logger.Warn("marked interrupted reports failed", zap.Int("count", n))
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown,
		Component:        "store_db",
		OnStateChange: func(component string, from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
			observability.SetCircuitBreakerState(component, int(to))
			logger.Warn("circuit breaker transition", zap.String("component", component), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	observability.SetCircuitBreakerState("store_db", int(circuitbreaker.StateClosed))

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if ids, err := db.RecentReportIDs(warmCtx, warmRecentReports); err != nil {
		logger.Warn("list recent reports", zap.Error(err))
	} else if len(ids) > 0 {
		if err := cache.NewWarmer(db, cacheSvc, cfg.CacheTTL, logger).Warm(warmCtx, ids); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
	}
	warmCancel()

	runs := &lifecycle.Runs{}
	reportService := service.NewReportService(db, cacheSvc, breaker, runs, service.Options{
		ReportDir:     cfg.ReportDir,
		Workers:       cfg.ReportWorkers,
		PageSize:      cfg.ReportPageSize,
		MaxStores:     cfg.ReportMaxStores,
		ReferenceTime: cfg.ReferenceTime,
		Compress:      cfg.CompressExport,
		CacheTTL:      cfg.CacheTTL,
		LoadTimeout:   cfg.StoreLoadTimeout,
		LoadRetries:   cfg.LoadRetryAttempts,
		LoadRetryBase: cfg.LoadRetryBaseDelay,
		LoadRetryMax:  cfg.LoadRetryMaxDelay,
	}, logger)

	healthConfig := &httphandler.HealthConfig{
		Window:           cfg.HealthWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		RateLimitRPS:     cfg.RateLimitRPS,
		RateLimitBurst:   cfg.RateLimitBurst,
		DBPing:           db.Ping,
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(reportService, service.NewStoreCatalog(db, logger), healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		TestingMode:    cfg.TestingMode,
	}, logger)

	observability.RegisterRateLimitGauges(cfg.HealthWindow)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort), zap.String("db", cfg.DBPath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	if err := httphandler.WaitForInFlight(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	logger.Info("waiting for report runs", zap.Int("running", runs.Running()))
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ReportDrainTimeout)
	defer drainCancel()
	if err := runs.Wait(drainCtx); err != nil {
		logger.Warn("report runs not drained; canceling", zap.Error(err), zap.Int("remaining", runs.Running()))
	}
	// Canceled runs still record themselves failed before returning.
	reportService.Close()
	finalCtx, finalCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer finalCancel()
	_ = runs.Wait(finalCtx)

	closers := []io.Closer{db}
	if memcacheCloser != nil {
		closers = append(closers, memcacheCloser)
	}
	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger, closers...); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}
