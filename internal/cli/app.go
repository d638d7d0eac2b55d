package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/pulsehq/pulse/internal/config"
	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/db/driver"
)

// app bundles the pieces every command needs: config, database, logger.
type app struct {
	cfg    *config.Config
	db     *db.DB
	logger *slog.Logger
}

// openApp loads configuration, opens the database, and applies migrations.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	dialect, err := driver.ParseDialect(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}

	database, err := db.OpenWithDialect(cfg.Database.DSN, dialect)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &app{cfg: cfg, db: database, logger: logger}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}

// newLogger builds the process logger: text on a TTY, JSON otherwise.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.Log.Level)
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if !cfg.Log.JSON && isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
