package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/secfleet/secfleet/internal/daemon"
	"github.com/secfleet/secfleet/internal/domain"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync VS_ID",
	Short: "Run a conformance job for one virtual system and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	id, err := parseID("virtual system", args[0])
	if err != nil {
		return err
	}

	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	j, err := d.RunOnce(context.Background(), id)
	if err != nil {
		return err
	}
	if err := printJob(os.Stdout, j); err != nil {
		return err
	}
	if j.Status() != domain.JobSucceeded {
		return fmt.Errorf("job %d failed: %w", j.ID(), j.Err())
	}
	return nil
}
