// Package cli implements the inferencegated command-line interface using
// Cobra: serve runs the daemon, pull/list/ps operate against the local
// model catalog.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "inferencegated",
	Short: "inferencegate — multi-tenant inference gateway",
	Long: `inferencegate fronts hosted commercial APIs and local model runtimes
behind one uniform generation API: text, image and 3D mesh, with
per-model queueing, memory-budgeted model loading and session state.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
