// Package config provides configuration management for pulse.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string `mapstructure:"dialect"`

	// DSN is the database path for SQLite or a connection string for
	// PostgreSQL.
	DSN string `mapstructure:"dsn"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	// Workers is the number of concurrent job workers.
	Workers int `mapstructure:"workers"`

	// PollInterval is how often each worker polls for due jobs.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// OutboxConfig tunes event publication.
type OutboxConfig struct {
	// SweepInterval is how often stranded pending events are republished.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LogConfig tunes logging output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `mapstructure:"level"`

	// JSON forces the JSON handler even on a TTY.
	JSON bool `mapstructure:"json"`
}

// Config is the full pulse configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Outbox   OutboxConfig   `mapstructure:"outbox"`
	Log      LogConfig      `mapstructure:"log"`

	// RulesFile optionally seeds automation rules at startup.
	RulesFile string `mapstructure:"rules_file"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Dialect: "sqlite",
			DSN:     ".pulse/pulse.db",
		},
		Engine: EngineConfig{
			Workers:      2,
			PollInterval: time.Second,
		},
		Outbox: OutboxConfig{
			SweepInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file plus PULSE_*
// environment overrides, on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	def := Default()
	v.SetDefault("database.dialect", def.Database.Dialect)
	v.SetDefault("database.dsn", def.Database.DSN)
	v.SetDefault("engine.workers", def.Engine.Workers)
	v.SetDefault("engine.poll_interval", def.Engine.PollInterval)
	v.SetDefault("outbox.sweep_interval", def.Outbox.SweepInterval)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.json", def.Log.JSON)
	v.SetDefault("rules_file", def.RulesFile)

	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pulse")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(".pulse")
	}

	if err := v.ReadInConfig(); err != nil {
		// An explicit file must exist; the default search may come up empty.
		if path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Dialect {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pg":
	default:
		return fmt.Errorf("unknown database dialect: %q", c.Database.Dialect)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be at least 1, got %d", c.Engine.Workers)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine poll interval must be positive")
	}
	if c.Outbox.SweepInterval <= 0 {
		return fmt.Errorf("outbox sweep interval must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Log.Level)
	}
	return nil
}
