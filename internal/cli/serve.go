package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/secfleet/secfleet/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveSync, "sync", false, "Enable periodic conformance (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
	serveSync bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the secfleet API server",
	Long:  `Start the status API and, when enabled, the periodic conformance of every virtual system.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return err
	}

	// Override config from flags
	if serveHost != "" {
		cfg.API.Host = serveHost
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}
	if serveSync {
		cfg.Sync.Enabled = true
	}

	d, err := daemon.NewWithConfig(cfg, daemon.Home())
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}
