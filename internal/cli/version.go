package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/secfleet/secfleet/internal/api"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the secfleet version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("secfleet %s (api %s)\n", rootCmd.Version, api.Version)
	},
}
