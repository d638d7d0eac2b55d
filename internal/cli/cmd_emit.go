package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pulsehq/pulse/internal/engine"
	"github.com/pulsehq/pulse/internal/outbox"
)

// newEmitCmd creates the emit command.
func newEmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Emit a domain event",
		Long: `Append a domain event to the outbox and publish it.

The event is handed to the workflow engine immediately; if a serve
process is running it will pick the job up on its next poll. Without a
running engine the job waits in the queue.

Examples:
  pulse emit --tenant t1 --event appointment.created \
    --entity-type appointment --entity-id appt-1 \
    --data '{"appointment":{"id":"appt-1","type":"cleaning"}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			eventName, _ := cmd.Flags().GetString("event")
			entityType, _ := cmd.Flags().GetString("entity-type")
			entityID, _ := cmd.Flags().GetString("entity-id")
			dataJSON, _ := cmd.Flags().GetString("data")

			var data map[string]any
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			events := outbox.NewStore(a.db)
			queue := engine.NewQueue(a.db)
			publisher := outbox.NewPublisher(events, queue, a.logger)

			ev, err := publisher.Emit(ctx, tenant, eventName, entityType, entityID, data)
			if err != nil {
				return fmt.Errorf("emit event: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(ev)
			}
			fmt.Printf("Emitted %s (%s)\n", eventName, ev.ID)
			return nil
		},
	}

	cmd.Flags().String("tenant", "", "tenant ID (required)")
	cmd.Flags().String("event", "", "event name, e.g. appointment.created (required)")
	cmd.Flags().String("entity-type", "", "entity type, e.g. appointment")
	cmd.Flags().String("entity-id", "", "entity ID")
	cmd.Flags().String("data", "", "event payload as JSON")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("event")

	return cmd
}
