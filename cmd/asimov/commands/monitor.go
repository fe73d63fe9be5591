package commands

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/etive-io/asimov/config"
	"github.com/etive-io/asimov/errors"
)

// MonitorCmd runs one monitor pass over the project.
var MonitorCmd = &cobra.Command{
	Use:   "monitor [subject]",
	Short: "Reconcile ledger state against the scheduler",
	Long: `Run one monitor pass over the project.

Each tracked production is reconciled against the scheduler queue: finished
jobs trigger completion handling, held jobs are resurrected within their
retry budget, and stop requests eject jobs from the queue. With --chain the
ready frontier is built and submitted first.

The command exits non-zero when the scheduler is unreachable or the ledger
lock cannot be taken; hook failures on individual analyses are recorded in
the ledger and do not fail the pass.

Examples:
  asimov monitor                 # Monitor every subject
  asimov monitor GW150914        # Monitor one subject
  asimov monitor --chain         # Submit ready analyses, then monitor
  asimov monitor --dry-run       # Report without acting`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		chain, _ := cmd.Flags().GetBool("chain")
		subjectFilter := ""
		if len(args) == 1 {
			subjectFilter = args[0]
		}
		return runMonitor(cmd.Context(), dryRun, chain, subjectFilter)
	},
}

func init() {
	MonitorCmd.Flags().Bool("dry-run", false, "Report what would happen without acting")
	MonitorCmd.Flags().Bool("chain", false, "Build and submit ready analyses before monitoring")
}

func runMonitor(ctx context.Context, dryRun, chain bool, subjectFilter string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	led, err := openLedger(cfg)
	if err != nil {
		return err
	}

	mctx, err := newMonitorContext(ctx, cfg, led, dryRun, subjectFilter)
	if err != nil {
		if errors.IsSchedulerUnreachable(err) {
			pterm.Error.Printf("Scheduler unreachable: %v\n", err)
		}
		return err
	}

	if chain {
		if err := mctx.SubmitReady(ctx); err != nil {
			return err
		}
	}
	if err := mctx.RunCycle(ctx); err != nil {
		return err
	}

	for _, s := range mctx.Ledger.Subjects() {
		if subjectFilter != "" && s.Name != subjectFilter {
			continue
		}
		state := s.State()
		line := pterm.Info
		switch state {
		case "finished":
			line = pterm.Success
		case "stuck":
			line = pterm.Warning
		}
		line.Printf("%s: %s\n", s.Name, state)
		for _, p := range s.Productions {
			pterm.Printf("  %s (%s): %s\n", p.Name, p.Pipeline, p.Status)
		}
	}
	return nil
}
