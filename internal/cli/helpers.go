package cli

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job"
)

// parseID parses a positive numeric id argument.
func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id %q", kind, s)
	}
	return id, nil
}

// newTable creates the aligned writer used by list commands.
func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// printJob writes a job's outcome and each task's final state.
func printJob(w io.Writer, j *job.Job) error {
	status := j.Status()
	if status == "" {
		status = domain.JobStatus(j.State())
	}
	fmt.Fprintf(w, "Job %d %q: %s\n", j.ID(), j.Name(), status)

	tw := newTable(w)
	fmt.Fprintln(tw, "NODE\tTASK\tSTATE\tERROR")
	for _, n := range j.Nodes() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", n.ID, n.Name, n.State, n.Error)
	}
	return tw.Flush()
}
