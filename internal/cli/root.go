// Package cli implements the pulse command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulse",
	Short: "Event-driven automation engine",
	Long: `pulse runs tenant-defined automation rules against domain events.

Domain writes emit events through a transactional outbox; a durable
workflow engine delivers each event to the tenant's matching rules,
evaluates their conditions, and executes the configured actions with
replay-safe delays and per-action result logging.

Quick start:
  pulse serve                          Start the engine and sweeper
  pulse rules load rules.yaml          Load automation rules
  pulse emit --tenant t1 --event appointment.created --data '{...}'
  pulse runs list --tenant t1          Inspect automation runs`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./pulse.yaml or .pulse/pulse.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newEmitCmd())
	rootCmd.AddCommand(newSweepCmd())
	rootCmd.AddCommand(newRulesCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
