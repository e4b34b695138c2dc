package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Reference time modes for report runs.
const (
	ReferenceLatestObservation = "latest_observation"
	ReferenceWallClock         = "now"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort     string
	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	DBPath string

	ReportDir       string
	ReportWorkers   int
	ReportPageSize  int
	ReportMaxStores int // 0 means all stores
	ReferenceTime   string
	CompressExport  bool

	CacheTTL     time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	StoreLoadTimeout        time.Duration
	LoadRetryAttempts       int
	LoadRetryBaseDelay      time.Duration
	LoadRetryMaxDelay       time.Duration

	ShutdownTimeout    time.Duration
	ReportDrainTimeout time.Duration

	HealthWindow     time.Duration
	DegradedErrorPct int
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Report struct {
		Dir           string `yaml:"dir"`
		Workers       int    `yaml:"workers"`
		PageSize      int    `yaml:"page_size"`
		MaxStores     *int   `yaml:"max_stores"`
		ReferenceTime string `yaml:"reference_time"`
		Compress      bool   `yaml:"compress"`
		DrainTimeout  string `yaml:"drain_timeout"`
	} `yaml:"report"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerCooldown         string `yaml:"breaker_cooldown"`
		StoreLoadTimeout        string `yaml:"store_load_timeout"`
		LoadRetryAttempts       int    `yaml:"load_retry_attempts"`
		LoadRetryBaseDelay      string `yaml:"load_retry_base_delay"`
		LoadRetryMaxDelay       string `yaml:"load_retry_max_delay"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		Window           string `yaml:"window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev). A .env
// file in the working directory, if present, is applied to the environment
// first; variables already set are not overwritten. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fc.Database.Path, "data/store-monitor.db")

	cfg.ReportDir = firstNonEmpty(os.Getenv("REPORT_DIR"), fc.Report.Dir, "reports")
	cfg.ReportWorkers = fc.Report.Workers
	if cfg.ReportWorkers <= 0 {
		cfg.ReportWorkers = 8
	}
	cfg.ReportPageSize = fc.Report.PageSize
	if cfg.ReportPageSize <= 0 {
		cfg.ReportPageSize = 500
	}
	if fc.Report.MaxStores != nil {
		cfg.ReportMaxStores = *fc.Report.MaxStores
	}
	if v := strings.TrimSpace(os.Getenv("REPORT_MAX_STORES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REPORT_MAX_STORES: %w", err)
		}
		cfg.ReportMaxStores = n
	}
	cfg.ReferenceTime = strings.TrimSpace(strings.ToLower(fc.Report.ReferenceTime))
	if cfg.ReferenceTime == "" {
		cfg.ReferenceTime = ReferenceLatestObservation
	}
	cfg.CompressExport = fc.Report.Compress
	cfg.ReportDrainTimeout = parseDuration(fc.Report.DrainTimeout, 30*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 1
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerCooldown = parseDuration(fc.Reliability.BreakerCooldown, 10*time.Second)
	cfg.StoreLoadTimeout = parseDuration(fc.Reliability.StoreLoadTimeout, 2*time.Second)
	cfg.LoadRetryAttempts = fc.Reliability.LoadRetryAttempts
	if cfg.LoadRetryAttempts <= 0 {
		cfg.LoadRetryAttempts = 3
	}
	cfg.LoadRetryBaseDelay = parseDuration(fc.Reliability.LoadRetryBaseDelay, 50*time.Millisecond)
	cfg.LoadRetryMaxDelay = parseDuration(fc.Reliability.LoadRetryMaxDelay, time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.HealthWindow = parseDuration(fc.Health.Window, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Enumerations must be known; a negative store cap is rejected.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.ReferenceTime {
	case ReferenceLatestObservation, ReferenceWallClock:
		// valid
	default:
		return fmt.Errorf("report.reference_time must be %s or %s, got %q", ReferenceLatestObservation, ReferenceWallClock, cfg.ReferenceTime)
	}
	if cfg.ReportMaxStores < 0 {
		return fmt.Errorf("report.max_stores must be >= 0, got %d", cfg.ReportMaxStores)
	}
	return nil
}
