package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/secfleet/secfleet/internal/domain"
)

// RecordTo returns a job listener persisting the completed job and its task
// nodes to store. Save errors are logged; the job outcome is unaffected.
func RecordTo(store domain.JobRecordStore, log *zap.Logger) JobListener {
	return func(j *Job) {
		nodes := j.Nodes()
		tasks := make([]domain.TaskRecord, len(nodes))
		for i, n := range nodes {
			tasks[i] = n.Record(j.ID())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.SaveJobRecord(ctx, j.Record(), tasks); err != nil {
			log.Error("save job record", zap.Int64("job_id", j.ID()), zap.Error(err))
		}
	}
}
