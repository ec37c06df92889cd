package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/secfleet/secfleet/internal/daemon"
)

func init() {
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Number of records to show")
	rootCmd.AddCommand(jobsCmd)
}

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent job records",
	RunE:  runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	d, err := daemon.New()
	if err != nil {
		return err
	}
	defer d.Close()

	records, err := d.DB.ListJobRecords(context.Background(), jobsLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No jobs recorded. Run 'secfleet sync <vs-id>' to start one.")
		return nil
	}

	w := newTable(os.Stdout)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tFAILURES\tSTARTED\tDURATION")
	for _, r := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.Name,
			r.Status,
			r.FailureCount,
			formatTime(r.StartedAt),
			r.Duration(),
		)
	}
	return w.Flush()
}
