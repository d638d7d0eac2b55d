package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsehq/pulse/internal/run"
)

// newRunsCmd creates the runs command group.
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect automation runs",
	}
	cmd.AddCommand(newRunsListCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's automation runs",
		Long: `List recent automation runs, newest first.

Each run records one rule executed against one event, with a per-action
result log.

Examples:
  pulse runs list --tenant t1
  pulse runs list --tenant t1 --limit 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")
			limit, _ := cmd.Flags().GetInt("limit")

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := run.NewStore(a.db).List(ctx, tenant, limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tRULE\tTRIGGER\tSTATUS\tSTARTED\tACTIONS")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
					r.ID,
					r.RuleID,
					r.TriggerEvent,
					r.Status,
					r.StartedAt.Local().Format(time.RFC3339),
					len(r.Result))
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("tenant", "", "tenant ID (required)")
	cmd.Flags().Int("limit", 20, "maximum number of runs to show")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}
