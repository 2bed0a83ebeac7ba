// Package config loads finsync settings from a YAML file with a FINSYNC_
// environment overlay.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/mkoziy/finsync/internal/calendar"
	"github.com/mkoziy/finsync/internal/database"
	"github.com/mkoziy/finsync/internal/deadletter"
	"github.com/mkoziy/finsync/internal/fetch"
	"github.com/mkoziy/finsync/internal/logging"
	"github.com/mkoziy/finsync/internal/notify"
	"github.com/mkoziy/finsync/internal/ratelimit"
	"github.com/mkoziy/finsync/internal/sources/fmp"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "FINSYNC_"

// Config is the full application configuration.
type Config struct {
	Database   database.Config   `yaml:"database" env:", prefix=DATABASE_"`
	Provider   ProviderConfig    `yaml:"provider" env:", prefix=PROVIDER_"`
	Sync       SyncConfig        `yaml:"sync" env:", prefix=SYNC_"`
	DeadLetter deadletter.Config `yaml:"deadletter" env:", prefix=DEADLETTER_"`
	Logging    logging.Config    `yaml:"logging" env:", prefix=LOG_"`
	API        APIConfig         `yaml:"api" env:", prefix=API_"`
	Metrics    MetricsConfig     `yaml:"metrics" env:", prefix=METRICS_"`
	NATS       notify.Config     `yaml:"nats" env:", prefix=NATS_"`
	Calendar   calendar.Config   `yaml:"calendar"`
}

// ProviderConfig holds the market data provider connection.
type ProviderConfig struct {
	Name              string           `yaml:"name" env:"NAME, overwrite"`
	BaseURL           string           `yaml:"base_url" env:"BASE_URL, overwrite"`
	APIKey            string           `yaml:"api_key" env:"API_KEY, overwrite"`
	Timeout           time.Duration    `yaml:"timeout" env:"TIMEOUT, overwrite"`
	Concurrency       int              `yaml:"concurrency" env:"CONCURRENCY, overwrite"`
	// MaxRetries overrides the rate limit's transient budget when set; 0
	// disables transient retries.
	MaxRetries        *int             `yaml:"max_retries" env:"MAX_RETRIES, overwrite, noinit"`
	RateLimitWait     time.Duration    `yaml:"rate_limit_wait" env:"RATE_LIMIT_WAIT, overwrite"`
	MaxRateLimitWaits int              `yaml:"max_rate_limit_waits" env:"MAX_RATE_LIMIT_WAITS, overwrite"`
	RateLimit         ratelimit.Config `yaml:"rate_limit"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	WindowDays        int           `yaml:"window_days" env:"WINDOW_DAYS, overwrite"`
	ChunkSize         int           `yaml:"chunk_size" env:"CHUNK_SIZE, overwrite"`
	BatchSize         int           `yaml:"batch_size" env:"BATCH_SIZE, overwrite"`
	Datasets          []string      `yaml:"datasets" env:"DATASETS, overwrite"`
	Symbols           []string      `yaml:"symbols" env:"SYMBOLS, overwrite"`
	SymbolsFile       string        `yaml:"symbols_file" env:"SYMBOLS_FILE, overwrite"`
	PeriodicMaxAge    time.Duration `yaml:"periodic_max_age" env:"PERIODIC_MAX_AGE, overwrite"`
	ForceRefreshToday bool          `yaml:"force_refresh_today" env:"FORCE_REFRESH_TODAY, overwrite"`
	AuditRetention    time.Duration `yaml:"audit_retention" env:"AUDIT_RETENTION, overwrite"`
}

// APIConfig configures the read API server.
type APIConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR, overwrite"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT, overwrite"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT, overwrite"`
}

// MetricsConfig covers the serve endpoint and the Pushgateway that receives
// each sync run's metrics. An empty PushURL disables pushing.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED, overwrite"`
	Path    string `yaml:"path" env:"PATH, overwrite"`
	PushURL string `yaml:"push_url" env:"PUSH_URL, overwrite"`
	PushJob string `yaml:"push_job" env:"PUSH_JOB, overwrite"`
}

// Default returns a config that runs against a local SQLite file.
func Default() *Config {
	return &Config{
		Database: database.DefaultConfig(),
		Provider: ProviderConfig{
			Name:          fmp.Provider,
			BaseURL:       fmp.DefaultBaseURL,
			Timeout:       30 * time.Second,
			Concurrency:   10,
			RateLimitWait: 10 * time.Second,
			RateLimit:     ratelimit.DefaultConfig(),
		},
		Sync: SyncConfig{
			WindowDays:     30,
			ChunkSize:      50,
			BatchSize:      500,
			PeriodicMaxAge: 7 * 24 * time.Hour,
			AuditRetention: 90 * 24 * time.Hour,
		},
		DeadLetter: deadletter.Config{Path: "dead_letter.ndjson", MaxSizeMB: 50, MaxBackups: 5},
		Logging:    logging.Config{Level: "info", Format: "text", Output: "stdout"},
		API:        APIConfig{Addr: ":8080", ReadTimeout: 15 * time.Second, WriteTimeout: 30 * time.Second},
		Metrics:    MetricsConfig{Enabled: true, Path: "/metrics", PushJob: "finsync_sync"},
		NATS:       notify.Config{Subject: notify.DefaultSubject, MaxReconnect: 10, ReconnectWait: 2 * time.Second, Timeout: 5 * time.Second},
		Calendar:   calendar.DefaultConfig(),
	}
}

// Load reads path (optional) over the defaults, applies FINSYNC_ overrides
// and validates the result.
func Load(ctx context.Context, path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		data = b
	}
	return load(ctx, data, envconfig.OsLookuper())
}

func load(ctx context.Context, data []byte, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Default()

	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		// A rate_limits entry for the active provider takes precedence over
		// provider.rate_limit.
		limits, err := ratelimit.LoadSourceConfigs(data)
		if err != nil {
			return nil, err
		}
		if rl, ok := limits.Get(cfg.Provider.Name); ok {
			cfg.Provider.RateLimit = rl
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookuper),
	}); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	// FMP_API_KEY is what the provider's own tooling documents.
	if cfg.Provider.APIKey == "" {
		if key, ok := lookuper.Lookup("FMP_API_KEY"); ok {
			cfg.Provider.APIKey = key
		}
	}

	cfg.Provider.RateLimit = ratelimit.WithDefaults(cfg.Provider.RateLimit)
	if n := cfg.Provider.MaxRetries; n != nil {
		cfg.Provider.RateLimit.MaxRetries = *n
		if *n == 0 {
			cfg.Provider.RateLimit.MaxRetries = ratelimit.NoRetries
		}
	}
	cfg.Sync.Datasets = trimAll(cfg.Sync.Datasets)
	cfg.Sync.Symbols = trimAll(cfg.Sync.Symbols)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider base_url is required"))
	}
	if c.Provider.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("provider concurrency must be positive, got %d", c.Provider.Concurrency))
	}
	if n := c.Provider.MaxRetries; n != nil && *n < 0 {
		errs = append(errs, fmt.Errorf("provider max_retries must not be negative, got %d", *n))
	}
	if c.Sync.WindowDays <= 0 {
		errs = append(errs, fmt.Errorf("sync window_days must be positive, got %d", c.Sync.WindowDays))
	}
	if c.Sync.ChunkSize <= 0 || c.Sync.BatchSize <= 0 {
		errs = append(errs, errors.New("sync chunk_size and batch_size must be positive"))
	}
	if _, err := fmp.Select(c.Sync.Datasets); err != nil {
		errs = append(errs, err)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Fetch returns the fetch client settings for the provider.
func (p ProviderConfig) Fetch() fetch.Config {
	return fetch.Config{
		BaseURL:           p.BaseURL,
		APIKey:            p.APIKey,
		Timeout:           p.Timeout,
		Concurrency:       p.Concurrency,
		RateLimitWait:     p.RateLimitWait,
		MaxRateLimitWaits: p.MaxRateLimitWaits,
		RateLimit:         p.RateLimit,
	}
}

// Window returns the default sync window ending at end.
func (s SyncConfig) Window(end time.Time) (time.Time, time.Time) {
	return end.AddDate(0, 0, -s.WindowDays), end
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
