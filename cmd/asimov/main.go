package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/etive-io/asimov/cmd/asimov/commands"
	"github.com/etive-io/asimov/logger"
)

var rootCmd = &cobra.Command{
	Use:   "asimov",
	Short: "asimov - automated analysis orchestration",
	Long: `asimov - automated orchestration of scientific analysis pipelines.

asimov tracks analysis subjects and their productions in a project ledger,
submits analyses to a batch scheduler when their dependencies are met, and
monitors running jobs through to completion.

Available commands:
  init    - Create a new asimov project
  apply   - Apply a blueprint file to the ledger
  monitor - Reconcile ledger state against the scheduler
  start   - Install a cron entry running the monitor
  stop    - Remove the monitor cron entry

Examples:
  asimov init my-project       # Create a project with an empty ledger
  asimov apply -f events.yaml  # Add subjects and analyses
  asimov monitor --chain       # Submit ready analyses, then monitor
  asimov start                 # Keep monitoring via cron`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.ApplyCmd)
	rootCmd.AddCommand(commands.MonitorCmd)
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.StopCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
