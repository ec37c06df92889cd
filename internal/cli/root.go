// Package cli implements the secfleet command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "secfleet",
	Short: "secfleet keeps security appliances conformant with their desired state",
	Long: `secfleet runs conformance jobs that converge each virtual system's
remote security group interfaces with the desired state in its database.

State lives under $SECFLEET_HOME (default ~/.secfleet).`,
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
