// Package domain holds the pure types shared by the job engine, the
// conformance routines and the infrastructure that persists their outcome.
// Jobs are never persisted as graphs; only their records are:
// submit → lock → run nodes → release → record.
package domain

import "time"

// TaskState tracks a task node through a job.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskSucceeded TaskState = "SUCCEEDED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
)

// IsTerminal returns true once the node can no longer change state.
func (s TaskState) IsTerminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}

// JobState is the lifecycle of a submitted job.
type JobState string

const (
	JobQueued    JobState = "QUEUED"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
)

// JobStatus is the outcome of a job. Empty until the job completes.
type JobStatus string

const (
	JobSucceeded JobStatus = "SUCCEEDED"
	JobFailed    JobStatus = "FAILED"
)

// JobRecord is the persisted outcome of a job.
type JobRecord struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	State        JobState  `json:"state"`
	Status       JobStatus `json:"status,omitempty"`
	QueuedAt     time.Time `json:"queued_at"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	FailureCount int       `json:"failure_count"`
}

// IsTerminal returns true if the job has reached a final state.
func (j *JobRecord) IsTerminal() bool { return j.State == JobCompleted }

// Duration returns how long the job ran (0 if not started/completed).
func (j *JobRecord) Duration() time.Duration {
	if j.StartedAt.IsZero() || j.CompletedAt.IsZero() {
		return 0
	}
	return j.CompletedAt.Sub(j.StartedAt)
}

// TaskRecord is the persisted outcome of one task node.
type TaskRecord struct {
	JobID       int64     `json:"job_id"`
	NodeID      int       `json:"node_id"`
	Name        string    `json:"name"`
	State       TaskState `json:"state"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the task ran (0 if it never ran).
func (t *TaskRecord) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// AlertKind classifies systemic failures surfaced to operators.
type AlertKind string

const (
	AlertLockTimeout AlertKind = "LOCK_TIMEOUT"
	AlertTaskPanic   AlertKind = "TASK_PANIC"
	AlertGraphSplice AlertKind = "GRAPH_SPLICE"
	AlertListener    AlertKind = "LISTENER"
)

// Alert is a standalone operator event, independent of any job status.
type Alert struct {
	ID           int64     `json:"id"`
	Kind         AlertKind `json:"kind"`
	Message      string    `json:"message"`
	JobID        int64     `json:"job_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged"`
}
