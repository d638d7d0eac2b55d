package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulsehq/pulse/internal/engine"
	"github.com/pulsehq/pulse/internal/outbox"
)

// newSweepCmd creates the sweep command.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Republish stranded outbox events once",
		Long: `Run a single outbox sweep pass.

Pending events whose retry window is due are handed to the workflow
engine. The serve process does this continuously; sweep is for
operators and cron jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			events := outbox.NewStore(a.db)
			queue := engine.NewQueue(a.db)
			publisher := outbox.NewPublisher(events, queue, a.logger)

			published, err := publisher.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep outbox: %w", err)
			}

			fmt.Printf("Published %d event(s)\n", published)
			return nil
		},
	}
}
