package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pulsehq/pulse/internal/rule"
)

// newRulesCmd creates the rules command group.
func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage automation rules",
	}
	cmd.AddCommand(newRulesListCmd())
	cmd.AddCommand(newRulesLoadCmd())
	return cmd
}

func newRulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's automation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rules, err := rule.NewStore(a.db).List(ctx, tenant)
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(rules)
			}

			if len(rules) == 0 {
				fmt.Println("No rules found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTRIGGER\tENABLED\tACTIONS")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%d\n",
					r.ID, r.Name, r.TriggerEvent, r.Enabled, len(r.Actions))
			}
			return w.Flush()
		},
	}

	cmd.Flags().String("tenant", "", "tenant ID (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newRulesLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Load automation rules from a YAML file",
		Long: `Load rule definitions from a YAML file into the database.

Rules with an id are upserted in place; rules without one get a fresh
id on every load.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := seedRules(ctx, rule.NewStore(a.db), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Loaded %d rule(s) from %s\n", n, args[0])
			return nil
		},
	}
}
