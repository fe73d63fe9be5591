package commands

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/etive-io/asimov/config"
	"github.com/etive-io/asimov/errors"
	"github.com/etive-io/asimov/ledger"
	"github.com/etive-io/asimov/subject"
)

// ApplyCmd applies a blueprint file to the project ledger.
var ApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a blueprint file to the ledger",
	Long: `Apply a blueprint file to the project ledger.

Blueprint files are multi-document YAML. Each document declares a kind:
  event          - a new subject
  analysis       - a new production on a subject
  configuration  - project-level settings merged into the ledger

Analysis documents may carry a strategy matrix, which expands into one
production per parameter combination.

Examples:
  asimov apply -f GW150914.yaml              # Subject in the blueprint
  asimov apply -f analyses.yaml -s GW150914  # Attach analyses to a subject`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		subjectName, _ := cmd.Flags().GetString("subject")
		return runApply(file, subjectName)
	},
}

func init() {
	ApplyCmd.Flags().StringP("file", "f", "", "Blueprint file to apply (required)")
	ApplyCmd.Flags().StringP("subject", "s", "", "Subject analyses are attached to")
	ApplyCmd.MarkFlagRequired("file")
}

func runApply(file, subjectName string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	led, err := openLedger(cfg)
	if err != nil {
		return err
	}

	handle, err := os.Open(file)
	if err != nil {
		return errors.Wrapf(err, "failed to open blueprint %s", file)
	}
	defer handle.Close()

	blueprints, err := subject.ParseBlueprints(handle)
	if err != nil {
		return errors.Wrapf(err, "failed to parse blueprint %s", file)
	}

	for _, blueprint := range blueprints {
		switch blueprint.Kind {
		case "event":
			if err := applyEvent(led, blueprint); err != nil {
				return err
			}
		case "analysis":
			if err := applyAnalysis(led, blueprint, subjectName); err != nil {
				return err
			}
		case "configuration":
			if err := led.MergeConfiguration(blueprint.Data); err != nil {
				return err
			}
			pterm.Success.Println("Applied configuration")
		default:
			return errors.Newf("unknown blueprint kind %q", blueprint.Kind)
		}
	}
	return nil
}

func applyEvent(led ledger.Ledger, blueprint subject.Blueprint) error {
	s, err := blueprint.Subject()
	if err != nil {
		return err
	}
	if err := led.AddSubject(s); err != nil {
		return err
	}
	pterm.Success.Printf("Added subject %s\n", s.Name)
	return nil
}

func applyAnalysis(led ledger.Ledger, blueprint subject.Blueprint, subjectName string) error {
	p, err := blueprint.Production()
	if err != nil {
		return err
	}

	// The target subject comes from the flag, or from the blueprint itself.
	if subjectName == "" {
		subjectName, _ = blueprint.Data["event"].(string)
	}
	if subjectName == "" {
		// Project-scoped analyses have no subject.
		if err := led.AddProjectAnalysis(p); err != nil {
			return err
		}
		pterm.Success.Printf("Added project analysis %s\n", p.Name)
		return nil
	}

	s, err := led.Subject(subjectName)
	if err != nil {
		return err
	}
	if err := s.AddProduction(p); err != nil {
		return err
	}
	if err := led.UpdateSubject(s); err != nil {
		return err
	}
	pterm.Success.Printf("Added analysis %s to %s\n", p.Name, s.Name)
	return nil
}
