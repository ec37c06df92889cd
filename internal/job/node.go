package job

import (
	"time"

	"github.com/secfleet/secfleet/internal/domain"
)

const (
	startNodeName = "<start>"
	endNodeName   = "<end>"
)

// TaskNode pairs a task with its incoming guard and its execution state.
// The state fields are owned by the job that runs the graph.
type TaskNode struct {
	id      int
	task    Task
	guard   TaskGuard
	virtual string

	state       domain.TaskState
	err         error
	startedAt   time.Time
	completedAt time.Time
}

// ID is unique within the graph. The virtual start node is 0 and the
// virtual end node is -1.
func (n *TaskNode) ID() int { return n.id }

// Task returns the wrapped task, nil for the virtual start and end nodes.
func (n *TaskNode) Task() Task { return n.task }

func (n *TaskNode) Guard() TaskGuard { return n.guard }

// IsVirtual reports whether n is the start or end node.
func (n *TaskNode) IsVirtual() bool { return n.virtual != "" }

func (n *TaskNode) Name() string {
	if n.virtual != "" {
		return n.virtual
	}
	return n.task.Name()
}

// NodeInfo is a point-in-time copy of a node's execution state.
type NodeInfo struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Guard       string           `json:"guard"`
	State       domain.TaskState `json:"state"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
}

func (n *TaskNode) info() NodeInfo {
	ni := NodeInfo{
		ID:          n.id,
		Name:        n.Name(),
		Guard:       n.guard.String(),
		State:       n.state,
		StartedAt:   n.startedAt,
		CompletedAt: n.completedAt,
	}
	if n.err != nil {
		ni.Error = n.err.Error()
	}
	return ni
}

// Record converts the snapshot into a persisted task record of job jobID.
func (ni NodeInfo) Record(jobID int64) domain.TaskRecord {
	return domain.TaskRecord{
		JobID:       jobID,
		NodeID:      ni.ID,
		Name:        ni.Name,
		State:       ni.State,
		Error:       ni.Error,
		StartedAt:   ni.StartedAt,
		CompletedAt: ni.CompletedAt,
	}
}
