// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable name (PULSE_PORT, PULSE_WORKER_COUNT, ...)
const Prefix = "PULSE"

// Config holds application configuration
type Config struct {
	DataDir   string `envconfig:"DATA_DIR" default:"./data"`
	Port      int    `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
	Timezone  string `envconfig:"TIMEZONE" default:"UTC"`
	RedisURL  string `envconfig:"REDIS_URL"` // Optional; enables cross-process worker wake-ups

	Database    DatabaseConfig    `envconfig:"DB"`
	Queue       QueueConfig       `envconfig:"QUEUE"`
	Worker      WorkerConfig      `envconfig:"WORKER"`
	Trigger     TriggerConfig     `envconfig:"TRIGGER"`
	Maintenance MaintenanceConfig `envconfig:"MAINTENANCE"`
	LLM         LLMConfig         `envconfig:"LLM"`
	Archive     ArchiveConfig     `envconfig:"ARCHIVE"`
	Metrics     MetricsConfig     `envconfig:"METRICS"`
}

// DatabaseConfig selects the job store backend
type DatabaseConfig struct {
	Driver string `envconfig:"DRIVER" default:"sqlite"` // sqlite or postgres
	Path   string `envconfig:"SQLITE_PATH"`             // defaults to <data dir>/pulse.db
	DSN    string `envconfig:"DSN"`                     // postgres connection string
}

// QueueConfig holds retry policy defaults
type QueueConfig struct {
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BackoffBase time.Duration `envconfig:"BACKOFF_BASE" default:"1m"`
	BackoffMax  time.Duration `envconfig:"BACKOFF_MAX" default:"1h"`
}

// WorkerConfig holds worker pool settings
type WorkerConfig struct {
	Count        int           `envconfig:"COUNT" default:"2"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	ErrorBackoff time.Duration `envconfig:"ERROR_BACKOFF" default:"30s"`
	JobTimeout   time.Duration `envconfig:"JOB_TIMEOUT" default:"5m"`
}

// TriggerConfig holds the daily analysis regeneration thresholds
type TriggerConfig struct {
	LookbackWindow       time.Duration `envconfig:"LOOKBACK" default:"6h"`
	MinContentNoAnalysis int           `envconfig:"MIN_CONTENT" default:"5"`
	MinContentStale      int           `envconfig:"MIN_CONTENT_STALE" default:"3"`
	StaleAfter           time.Duration `envconfig:"STALE_AFTER" default:"6h"`
	AfternoonStaleAfter  time.Duration `envconfig:"AFTERNOON_STALE_AFTER" default:"8h"`
	MorningCutoff        string        `envconfig:"MORNING_CUTOFF" default:"09:00"`
	AfternoonCutoff      string        `envconfig:"AFTERNOON_CUTOFF" default:"15:00"`
	PredictionDelay      time.Duration `envconfig:"PREDICTION_DELAY" default:"10m"`
}

// MaintenanceConfig holds cron schedules for background upkeep
type MaintenanceConfig struct {
	StuckAfter   time.Duration `envconfig:"STUCK_AFTER" default:"10m"`
	ReaperSpec   string        `envconfig:"REAPER_SPEC" default:"0 * * * * *"`
	SweepSpec    string        `envconfig:"SWEEP_SPEC" default:"0 5 * * * *"`
	ArchiveSpec  string        `envconfig:"ARCHIVE_SPEC" default:"0 30 3 * * *"`
	Retention    time.Duration `envconfig:"RETENTION" default:"720h"`
	SweepBatch   int           `envconfig:"SWEEP_BATCH" default:"200"`
	ArchiveBatch int           `envconfig:"ARCHIVE_BATCH" default:"1000"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint
type LLMConfig struct {
	BaseURL     string        `envconfig:"BASE_URL" default:"https://api.openai.com/v1"`
	APIKey      string        `envconfig:"API_KEY"`
	Model       string        `envconfig:"MODEL" default:"gpt-4o-mini"`
	Timeout     time.Duration `envconfig:"TIMEOUT" default:"90s"`
	MaxTokens   int           `envconfig:"MAX_TOKENS" default:"2000"`
	Temperature float64       `envconfig:"TEMPERATURE" default:"0.3"`
}

// ArchiveConfig configures the S3-compatible job archive. Empty bucket disables it.
type ArchiveConfig struct {
	Bucket          string `envconfig:"BUCKET"`
	Prefix          string `envconfig:"PREFIX" default:"jobs"`
	Region          string `envconfig:"REGION" default:"auto"`
	Endpoint        string `envconfig:"ENDPOINT"` // R2 / MinIO
	AccessKeyID     string `envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `envconfig:"SECRET_ACCESS_KEY"`
}

// MetricsConfig toggles OTLP metric export
type MetricsConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"false"`
	Endpoint string        `envconfig:"ENDPOINT" default:"localhost:4318"`
	Insecure bool          `envconfig:"INSECURE" default:"true"`
	Interval time.Duration `envconfig:"INTERVAL" default:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	absDataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg.DataDir = absDataDir

	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "pulse.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and cross-field requirements
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("PULSE_DB_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue max attempts must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BackoffBase <= 0 || c.Queue.BackoffMax < c.Queue.BackoffBase {
		return fmt.Errorf("invalid backoff range %s..%s", c.Queue.BackoffBase, c.Queue.BackoffMax)
	}
	if c.Worker.Count < 0 {
		return fmt.Errorf("worker count cannot be negative")
	}
	if c.Worker.PollInterval <= 0 || c.Worker.ErrorBackoff <= 0 || c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	if c.Maintenance.StuckAfter <= 0 {
		return fmt.Errorf("stuck threshold must be positive")
	}
	if c.Maintenance.StuckAfter <= c.Worker.JobTimeout {
		return fmt.Errorf("stuck threshold %s must exceed job timeout %s", c.Maintenance.StuckAfter, c.Worker.JobTimeout)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := ParseClock(c.Trigger.MorningCutoff); err != nil {
		return fmt.Errorf("invalid morning cutoff: %w", err)
	}
	if _, err := ParseClock(c.Trigger.AfternoonCutoff); err != nil {
		return fmt.Errorf("invalid afternoon cutoff: %w", err)
	}

	return nil
}

// Location resolves the configured timezone used to decide "today"
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ParseClock parses an "HH:MM" wall-clock time into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
