package job

import (
	"context"
	"fmt"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job/lock"
)

// Task is one unit of orchestrated work.
//
// Objects must be computable from construction data alone; the engine locks
// them before any task of the job runs. Tasks are used as map keys, so
// implementations should be pointer types.
type Task interface {
	// Name is a stable description used for logs, records and tests.
	Name() string

	// Objects lists every entity the task touches. For a MetaTask this
	// covers its eventual sub-graph as well.
	Objects() []domain.LockObjectReference

	Execute(ctx context.Context) error
}

// MetaTask is a Task whose Execute computes a further sub-graph. TaskGraph
// is only valid after Execute returned nil; it may return nil or an empty
// graph when nothing needs to be done.
type MetaTask interface {
	Task
	TaskGraph() *TaskGraph
}

// SharedLocker is implemented by tasks that only read some of their
// entities. Those are locked READ instead of WRITE.
type SharedLocker interface {
	SharedObjects() []domain.LockObjectReference
}

// TaskGuard is the condition a node's predecessors must meet before it runs.
type TaskGuard int

const (
	// GuardDefault requires every predecessor to have SUCCEEDED.
	GuardDefault TaskGuard = iota
	// GuardAllPredecessorsCompleted requires every predecessor to be
	// terminal, whatever the outcome. Used for cleanup and unlock tasks.
	GuardAllPredecessorsCompleted
	// GuardAllAncestorsSucceeded requires every transitive ancestor to have
	// SUCCEEDED, looking through completed-guarded nodes in between.
	GuardAllAncestorsSucceeded
)

func (g TaskGuard) String() string {
	switch g {
	case GuardDefault:
		return "ALL_PREDECESSORS_SUCCEEDED"
	case GuardAllPredecessorsCompleted:
		return "ALL_PREDECESSORS_COMPLETED"
	case GuardAllAncestorsSucceeded:
		return "ALL_ANCESTORS_SUCCEEDED"
	default:
		return fmt.Sprintf("TaskGuard(%d)", int(g))
	}
}

// requiresSuccess reports whether a failed or skipped predecessor skips the node.
func (g TaskGuard) requiresSuccess() bool { return g != GuardAllPredecessorsCompleted }

// ─── Func ───────────────────────────────────────────────────────────────────

type funcTask struct {
	name    string
	objects []domain.LockObjectReference
	fn      func(ctx context.Context) error
}

// Func adapts fn into a Task. Useful for bookkeeping steps such as recording
// the last job of an entity.
func Func(name string, objects []domain.LockObjectReference, fn func(ctx context.Context) error) Task {
	return &funcTask{name: name, objects: objects, fn: fn}
}

func (t *funcTask) Name() string                          { return t.name }
func (t *funcTask) Objects() []domain.LockObjectReference { return t.objects }
func (t *funcTask) Execute(ctx context.Context) error     { return t.fn(ctx) }

// Downgrade returns a task turning the running job's WRITE lock on ref into
// a READ lock. Tasks after it that only read ref then share it with other
// readers.
func Downgrade(ref domain.LockObjectReference) Task {
	return Func(fmt.Sprintf("Downgrade Lock (%s)", ref), []domain.LockObjectReference{ref}, func(ctx context.Context) error {
		j, ok := FromContext(ctx)
		if !ok {
			return fmt.Errorf("%w: %s: not running in a job", lock.ErrNotHeld, ref)
		}
		return j.DowngradeLock(ref)
	})
}

// ─── Transactional ──────────────────────────────────────────────────────────

// Transactional wraps t so that each Execute runs inside one local
// transaction from txer. The transaction is carried by the context
// (domain.TxFrom); it commits when t returns nil and rolls back otherwise,
// including on panic. A wrapped MetaTask is still a MetaTask.
func Transactional(t Task, txer domain.Transactor) Task {
	tt := &txTask{inner: t, txer: txer}
	if m, ok := t.(MetaTask); ok {
		return &txMetaTask{txTask: tt, meta: m}
	}
	return tt
}

type txTask struct {
	inner Task
	txer  domain.Transactor
}

func (t *txTask) Name() string                          { return t.inner.Name() }
func (t *txTask) Objects() []domain.LockObjectReference { return t.inner.Objects() }
func (t *txTask) Unwrap() Task                          { return t.inner }

func (t *txTask) SharedObjects() []domain.LockObjectReference {
	if s, ok := t.inner.(SharedLocker); ok {
		return s.SharedObjects()
	}
	return nil
}

func (t *txTask) Execute(ctx context.Context) error {
	tx, err := t.txer.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := t.inner.Execute(domain.WithTx(ctx, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

type txMetaTask struct {
	*txTask
	meta MetaTask
}

func (t *txMetaTask) TaskGraph() *TaskGraph { return t.meta.TaskGraph() }

// Unwrap returns the task inside any Transactional wrappers.
func Unwrap(t Task) Task {
	for {
		u, ok := t.(interface{ Unwrap() Task })
		if !ok {
			return t
		}
		t = u.Unwrap()
	}
}
