package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/etive-io/asimov/internal/version"
)

// VersionCmd prints the asimov version.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show asimov version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("asimov %s\n", version.Version)
		fmt.Printf("Go: %s\n", runtime.Version())
	},
}
