// Command loader bulk-loads store, business-hours and status CSV files into
// the store-monitor database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/kjstillabower/store-monitor/internal/config"
	"github.com/kjstillabower/store-monitor/internal/ingest"
	"github.com/kjstillabower/store-monitor/internal/observability"
	"github.com/kjstillabower/store-monitor/internal/store"
)

func main() {
	storesPath := flag.String("stores", "", "CSV of store_id,timezone_str")
	timingsPath := flag.String("timings", "", "CSV of store_id,day,start_time_local,end_time_local")
	statusPath := flag.String("status", "", "CSV of store_id,status,timestamp_utc")
	dbPath := flag.String("db", "", "database path (default from config)")
	batch := flag.Int("batch", 5000, "rows per insert transaction")
	flag.Parse()

	logger, err := observability.NewLogger("loader")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *storesPath == "" && *timingsPath == "" && *statusPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			logger.Fatal("config", zap.Error(err))
		}
		*dbPath = cfg.DBPath
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		logger.Fatal("database", zap.Error(err), zap.String("path", *dbPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := ingest.NewLoader(db, logger, *batch)
	// Stores first so their timezones win over the UTC placeholders that
	// hours and status rows create for unknown stores.
	steps := []struct {
		path string
		load func(context.Context, io.Reader) (ingest.Stats, error)
	}{
		{*storesPath, loader.LoadStores},
		{*timingsPath, loader.LoadSchedule},
		{*statusPath, loader.LoadStatus},
	}
	exit := 0
	for _, step := range steps {
		if step.path == "" {
			continue
		}
		if err := loadFile(ctx, step.path, step.load); err != nil {
			logger.Error("load failed", zap.String("file", step.path), zap.Error(err))
			exit = 1
			break
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger, db); err != nil {
		fmt.Fprintf(os.Stderr, "flush: %v\n", err)
	}
	os.Exit(exit)
}

// loadFile opens path, transparently decompressing .gz files.
func loadFile(ctx context.Context, path string, load func(context.Context, io.Reader) (ingest.Stats, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	_, err = load(ctx, r)
	return err
}
