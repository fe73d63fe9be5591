package commands

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/etive-io/asimov/errors"
)

// cronMarker tags the crontab line asimov manages, so stop can find it.
const cronMarker = "# asimov-monitor"

// StartCmd installs a cron entry that keeps the monitor running.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Install a cron entry running the monitor",
	Long: `Install a crontab entry that runs 'asimov monitor --chain' on an
interval, so analyses are submitted and tracked without manual monitor runs.

Example:
  asimov start                 # Monitor every 15 minutes
  asimov start --interval 5    # Monitor every 5 minutes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetInt("interval")
		return runStart(interval)
	},
}

// StopCmd removes the monitor cron entry.
var StopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Remove the monitor cron entry",
	Long: `Remove the crontab entry installed by 'asimov start'. Running
analyses are left alone; they simply stop being monitored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop()
	},
}

func init() {
	StartCmd.Flags().Int("interval", 15, "Minutes between monitor runs")
}

func runStart(interval int) error {
	if interval <= 0 || interval > 59 {
		return errors.Newf("interval must be between 1 and 59 minutes, got %d", interval)
	}

	executable, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "failed to resolve asimov binary path")
	}
	workdir, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "failed to resolve working directory")
	}

	entries, err := readCrontab()
	if err != nil {
		return err
	}
	entry := fmt.Sprintf("*/%d * * * * cd %s && %s monitor --chain %s %s",
		interval, workdir, executable, cronMarker, workdir)
	for _, existing := range entries {
		if strings.Contains(existing, cronMarker+" "+workdir) {
			return errors.NewConflict("a monitor cron entry already exists for %s", workdir)
		}
	}
	entries = append(entries, entry)

	if err := writeCrontab(entries); err != nil {
		return err
	}
	pterm.Success.Printf("Monitoring %s every %d minutes\n", workdir, interval)
	return nil
}

func runStop() error {
	workdir, err := os.Getwd()
	if err != nil {
		return errors.Wrap(err, "failed to resolve working directory")
	}

	entries, err := readCrontab()
	if err != nil {
		return err
	}
	kept := entries[:0]
	removed := false
	for _, entry := range entries {
		if strings.Contains(entry, cronMarker+" "+workdir) {
			removed = true
			continue
		}
		kept = append(kept, entry)
	}
	if !removed {
		return errors.NewNotFound("no monitor cron entry found for %s", workdir)
	}

	if err := writeCrontab(kept); err != nil {
		return err
	}
	pterm.Success.Printf("Stopped monitoring %s\n", workdir)
	return nil
}

// readCrontab returns the current user's crontab lines. A missing crontab is
// an empty list, not an error.
func readCrontab() ([]string, error) {
	output, err := exec.Command("crontab", "-l").CombinedOutput()
	if err != nil {
		if strings.Contains(string(output), "no crontab") {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to read crontab: %s", strings.TrimSpace(string(output)))
	}
	var entries []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

func writeCrontab(entries []string) error {
	cmd := exec.Command("crontab", "-")
	cmd.Stdin = strings.NewReader(strings.Join(entries, "\n") + "\n")
	if output, err := cmd.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "failed to write crontab: %s", strings.TrimSpace(string(output)))
	}
	return nil
}
