package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PULSE_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "pulse.db"), cfg.Database.Path)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Queue.BackoffBase)
	assert.Equal(t, time.Hour, cfg.Queue.BackoffMax)
	assert.Equal(t, 6*time.Hour, cfg.Trigger.LookbackWindow)
	assert.Equal(t, 5, cfg.Trigger.MinContentNoAnalysis)
	assert.Equal(t, 3, cfg.Trigger.MinContentStale)
	assert.Equal(t, 10*time.Minute, cfg.Trigger.PredictionDelay)
	assert.Equal(t, 10*time.Minute, cfg.Maintenance.StuckAfter)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PULSE_DATA_DIR", t.TempDir())
	t.Setenv("PULSE_WORKER_COUNT", "8")
	t.Setenv("PULSE_QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("PULSE_TRIGGER_STALE_AFTER", "4h")
	t.Setenv("PULSE_TIMEZONE", "Europe/Athens")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 4*time.Hour, cfg.Trigger.StaleAfter)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Athens", loc.String())
}

func TestValidate_Rejects(t *testing.T) {
	base := func() *Config {
		t.Setenv("PULSE_DATA_DIR", t.TempDir())
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Database.Driver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Database.Driver = "postgres"
	assert.Error(t, cfg.Validate(), "postgres without DSN")

	cfg = base()
	cfg.Queue.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Queue.BackoffMax = time.Second
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Trigger.MorningCutoff = "9am"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Worker.JobTimeout = cfg.Maintenance.StuckAfter
	assert.ErrorContains(t, cfg.Validate(), "must exceed job timeout", "reaper would reset jobs still inside their timeout")

	cfg = base()
	cfg.Maintenance.StuckAfter = 2 * time.Minute
	assert.Error(t, cfg.Validate())
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:00")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour, d)

	d, err = ParseClock("15:30")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Hour+30*time.Minute, d)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}
