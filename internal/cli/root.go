// Package cli implements the orchestrator command-line interface using
// Cobra. Each subcommand drives the daemon directly - there is no
// separate client/server split; the CLI process is the daemon.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use: "orchestrator",
	Short: "orchestrator - local multi-model inference orchestrator",
	Long: `orchestrator decomposes a goal into tasks, runs them across a fleet
of locally hosted model endpoints, and synthesizes the results.

Run "orchestrator run <goal>" for a one-shot goal, or "orchestrator serve"
to keep the reaper and introspection endpoints running in the background.`,
	SilenceUsage: true,
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
