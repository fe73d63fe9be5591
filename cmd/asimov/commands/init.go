package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/etive-io/asimov/ledger"
	"github.com/etive-io/asimov/logger"
)

// InitCmd creates a new asimov project in the current directory.
var InitCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "Create a new asimov project",
	Long: `Create a new asimov project in the current directory.

This writes the project configuration file (asimov.toml), creates the
.asimov directory, and initialises an empty ledger.

Examples:
  asimov init O4-catalogue                 # YAML ledger (default)
  asimov init O4-catalogue --engine sqlite # SQLite ledger`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _ := cmd.Flags().GetString("engine")
		return runInit(args[0], engine)
	},
}

func init() {
	InitCmd.Flags().String("engine", "yamlfile", "Ledger engine (yamlfile or sqlite)")
}

func runInit(name, engine string) error {
	if err := os.MkdirAll(".asimov", 0o755); err != nil {
		return err
	}

	var location string
	switch engine {
	case "yamlfile", "yaml":
		engine = "yamlfile"
		location = filepath.Join(".asimov", "ledger.yml")
		if err := ledger.CreateYAML(location, name); err != nil {
			return err
		}
	case "sqlite", "sql":
		engine = "sqlite"
		location = filepath.Join(".asimov", "ledger.db")
		if err := ledger.CreateSQL(location, name, logger.Logger); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown ledger engine %q", engine)
	}

	configBody := fmt.Sprintf(`[project]
name = %q

[ledger]
engine = %q
location = %q
`, name, engine, location)
	if err := os.WriteFile("asimov.toml", []byte(configBody), 0o644); err != nil {
		return err
	}

	pterm.Success.Printf("Created project %s with a %s ledger at %s\n", name, engine, location)
	return nil
}
