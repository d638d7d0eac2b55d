package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Equal(t, ".pulse/pulse.db", cfg.Database.DSN)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, time.Second, cfg.Engine.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Outbox.SweepInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pulse.yaml")
	content := `database:
  dialect: sqlite
  dsn: /tmp/test.db
engine:
  workers: 4
  poll_interval: 250ms
outbox:
  sweep_interval: 5s
log:
  level: debug
rules_file: rules.yaml
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Engine.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Outbox.SweepInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "rules.yaml", cfg.RulesFile)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PULSE_ENGINE_WORKERS", "8")
	t.Setenv("PULSE_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad dialect", func(c *Config) { c.Database.Dialect = "oracle" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }},
		{"zero poll", func(c *Config) { c.Engine.PollInterval = 0 }},
		{"zero sweep", func(c *Config) { c.Outbox.SweepInterval = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
