package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pulsehq/pulse/internal/action"
	"github.com/pulsehq/pulse/internal/engine"
	"github.com/pulsehq/pulse/internal/outbox"
	"github.com/pulsehq/pulse/internal/rule"
	"github.com/pulsehq/pulse/internal/run"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the automation engine",
		Long: `Start the workflow engine workers and the outbox sweeper.

The engine delivers published events to matching automation rules and
executes their actions. The sweeper periodically republishes events that
were appended but never handed off, so a crash between a domain write
and its publish is repaired automatically.

Stops cleanly on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			events := outbox.NewStore(a.db)
			rules := rule.NewStore(a.db)
			runs := run.NewStore(a.db)
			queue := engine.NewQueue(a.db)
			timers := engine.NewTimers(a.db)

			if a.cfg.RulesFile != "" {
				n, err := seedRules(ctx, rules, a.cfg.RulesFile)
				if err != nil {
					return fmt.Errorf("seed rules: %w", err)
				}
				a.logger.Info("rules loaded", "file", a.cfg.RulesFile, "count", n)
			}

			runner := action.NewRunner(action.NewLoopback().Handlers(), a.logger)
			eng := engine.New(queue, a.logger, engine.Options{
				Workers:      a.cfg.Engine.Workers,
				PollInterval: a.cfg.Engine.PollInterval,
			})
			engine.NewPipeline(events, rules, runs, runner, timers, a.logger).Attach(eng)

			publisher := outbox.NewPublisher(events, queue, a.logger)

			a.logger.Info("pulse engine starting",
				"workers", a.cfg.Engine.Workers,
				"poll_interval", a.cfg.Engine.PollInterval,
				"sweep_interval", a.cfg.Outbox.SweepInterval,
				"database", a.db.Path())

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return eng.Run(ctx)
			})
			g.Go(func() error {
				return publisher.RunSweeper(ctx, a.cfg.Outbox.SweepInterval)
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// seedRules loads rule definitions from a YAML file into the store.
func seedRules(ctx context.Context, rules *rule.Store, path string) (int, error) {
	loaded, err := rule.LoadFile(path)
	if err != nil {
		return 0, err
	}
	for _, r := range loaded {
		if err := rules.Save(ctx, r); err != nil {
			return 0, fmt.Errorf("save rule %q: %w", r.Name, err)
		}
	}
	return len(loaded), nil
}
