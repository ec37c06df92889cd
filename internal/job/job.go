package job

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job/lock"
)

// Failure is one failed task of a job, in the order failures occurred.
type Failure struct {
	Task string
	Err  error
}

// TaskError is a task failure as reported by Job.Err. It matches
// domain.ErrTaskExecution and unwraps to the task's own error.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("task %q: %v", e.Task, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

func (e *TaskError) Is(target error) bool { return target == domain.ErrTaskExecution }

// JobListener is called once when a job completes, before Wait returns.
// It must not wait on the job itself.
type JobListener func(j *Job)

// TaskListener is called each time a task node of the job reaches a
// terminal state.
type TaskListener func(j *Job, n NodeInfo)

type jobKey struct{}

// FromContext returns the job a task is running in.
func FromContext(ctx context.Context) (*Job, bool) {
	j, ok := ctx.Value(jobKey{}).(*Job)
	return j, ok
}

// Job is one submitted task graph and its outcome. All methods are safe for
// concurrent use.
type Job struct {
	id     int64
	name   string
	owner  string
	engine *Engine
	log    *zap.Logger

	graph         *TaskGraph
	extraLocks    []lock.Request
	jobListeners  []JobListener
	taskListeners []TaskListener

	mu          sync.Mutex
	state       domain.JobState
	status      domain.JobStatus
	failures    []Failure
	grant       *lock.Grant // held while tasks run
	queuedAt    time.Time
	startedAt   time.Time
	completedAt time.Time
	done        chan struct{}
}

func (j *Job) ID() int64    { return j.id }
func (j *Job) Name() string { return j.name }

// LockOwner is the token the job's locks are held under.
func (j *Job) LockOwner() string { return j.owner }

func (j *Job) State() domain.JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Status is empty until the job completes.
func (j *Job) Status() domain.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// IsDone reports whether the job reached a terminal state.
func (j *Job) IsDone() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Done is closed once the job completed and its listeners ran.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job completes or ctx ends.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failures returns the recorded failures in order.
func (j *Job) Failures() []Failure {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.failures)
}

// Err aggregates the failures, nil when there are none.
func (j *Job) Err() error {
	var result *multierror.Error
	for _, f := range j.Failures() {
		result = multierror.Append(result, &TaskError{Task: f.Task, Err: f.Err})
	}
	return result.ErrorOrNil()
}

// Nodes returns a snapshot of every task node, in graph insertion order.
func (j *Job) Nodes() []NodeInfo {
	j.mu.Lock()
	defer j.mu.Unlock()
	nodes := j.graph.Nodes()
	out := make([]NodeInfo, len(nodes))
	for i, n := range nodes {
		out[i] = n.info()
	}
	return out
}

// Record returns the persisted form of the job's current state.
func (j *Job) Record() domain.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return domain.JobRecord{
		ID:           j.id,
		Name:         j.name,
		State:        j.state,
		Status:       j.status,
		QueuedAt:     j.queuedAt,
		StartedAt:    j.startedAt,
		CompletedAt:  j.completedAt,
		FailureCount: len(j.failures),
	}
}

// lockRequests flattens the declared lock sets of every known node. Objects
// are locked WRITE unless the task only reads them.
func (j *Job) lockRequests() []lock.Request {
	reqs := slices.Clone(j.extraLocks)
	for _, n := range j.graph.Nodes() {
		shared := make(map[domain.LockKey]bool)
		if s, ok := n.task.(SharedLocker); ok {
			for _, ref := range s.SharedObjects() {
				shared[ref.Key()] = true
				reqs = append(reqs, lock.Request{Ref: ref, Mode: lock.Read})
			}
		}
		for _, ref := range n.task.Objects() {
			if !shared[ref.Key()] {
				reqs = append(reqs, lock.Request{Ref: ref, Mode: lock.Write})
			}
		}
	}
	return lock.Normalize(reqs)
}

// ─── Execution ──────────────────────────────────────────────────────────────

type result struct {
	node     *TaskNode
	sub      *TaskGraph
	err      error
	started  time.Time
	finished time.Time
}

func (j *Job) run(ctx context.Context) {
	e := j.engine
	j.mu.Lock()
	j.state = domain.JobRunning
	j.startedAt = time.Now()
	j.mu.Unlock()
	e.obs.JobStarted()
	j.log.Info("job started", zap.Int("tasks", j.graph.TaskCount()))

	reqs := j.lockRequests()
	waitStart := time.Now()
	grant, err := e.locks.Acquire(ctx, j.owner, reqs, e.cfg.LockTimeout)
	if err != nil {
		e.obs.LockTimedOut()
		e.lockTimeouts.Add(1)
		j.log.Warn("lock acquisition failed", zap.Int("locks", len(reqs)), zap.Error(err))
		j.abort(err)
		e.alert(ctx, domain.Alert{
			Kind:    domain.AlertLockTimeout,
			Message: fmt.Sprintf("job %q: %v", j.name, err),
			JobID:   j.id,
		})
		j.finish()
		return
	}
	e.obs.LocksAcquired(time.Since(waitStart))
	j.mu.Lock()
	j.grant = grant
	j.mu.Unlock()

	j.walk(ctx)

	j.mu.Lock()
	j.grant = nil
	j.mu.Unlock()
	grant.Release()
	j.finish()
}

// DowngradeLock turns the job's WRITE lock on ref into a READ lock, letting
// readers of ref in other jobs proceed. It fails with lock.ErrNotHeld unless
// the job is running and holds ref WRITE.
func (j *Job) DowngradeLock(ref domain.LockObjectReference) error {
	j.mu.Lock()
	grant := j.grant
	j.mu.Unlock()
	if grant == nil {
		return fmt.Errorf("%w: %s", lock.ErrNotHeld, ref)
	}
	if err := grant.Downgrade(ref); err != nil {
		return err
	}
	j.log.Debug("lock downgraded", zap.Stringer("object", ref))
	return nil
}

// abort fails the job before any task ran. Every node ends SKIPPED.
func (j *Job) abort(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	for _, n := range j.graph.Nodes() {
		n.state = domain.TaskSkipped
		n.completedAt = now
	}
	j.failures = append(j.failures, Failure{Task: j.name, Err: err})
}

// walk drives the graph until no node is pending or running.
func (j *Job) walk(ctx context.Context) {
	results := make(chan result)

	j.mu.Lock()
	start := j.graph.start
	start.state = domain.TaskSucceeded
	start.startedAt, start.completedAt = j.startedAt, j.startedAt
	running, skipped := j.schedule(ctx, results)
	j.mu.Unlock()
	j.notifyTasks(skipped)

	for running > 0 {
		r := <-results
		running--

		j.mu.Lock()
		spliceErr := j.complete(r)
		launched, skipped := j.schedule(ctx, results)
		running += launched
		done := append([]NodeInfo{r.node.info()}, skipped...)
		j.mu.Unlock()

		if spliceErr != nil {
			j.engine.alert(ctx, domain.Alert{
				Kind:    domain.AlertGraphSplice,
				Message: fmt.Sprintf("job %q task %q: %v", j.name, r.node.Name(), spliceErr),
				JobID:   j.id,
			})
		}
		j.notifyTasks(done)
	}
}

// schedule starts every pending node whose guard is satisfied and skips the
// ones whose guard can no longer be met, until nothing changes. Caller
// holds mu.
func (j *Job) schedule(ctx context.Context, results chan<- result) (launched int, skipped []NodeInfo) {
	for changed := true; changed; {
		changed = false
		for _, n := range j.graph.graph.Nodes() {
			if n.state != domain.TaskPending {
				continue
			}
			switch j.eligibility(n) {
			case nodeReady:
				if n.IsVirtual() {
					n.state = domain.TaskSucceeded
					n.startedAt, n.completedAt = time.Now(), time.Now()
					changed = true
					continue
				}
				n.state = domain.TaskRunning
				j.launch(ctx, n, results)
				launched++
			case nodeSkip:
				n.state = domain.TaskSkipped
				n.completedAt = time.Now()
				changed = true
				if !n.IsVirtual() {
					skipped = append(skipped, n.info())
				}
			}
		}
	}
	return launched, skipped
}

type eligibility int

const (
	nodeWait eligibility = iota
	nodeReady
	nodeSkip
)

func (j *Job) eligibility(n *TaskNode) eligibility {
	preds := j.graph.graph.Predecessors(n)
	allTerminal, anyUnsuccessful := true, false
	for _, p := range preds {
		switch {
		case !p.state.IsTerminal():
			allTerminal = false
		case p.state != domain.TaskSucceeded:
			anyUnsuccessful = true
		}
	}

	// Guards are evaluated once every predecessor is terminal.
	if !allTerminal {
		return nodeWait
	}
	if n.guard.requiresSuccess() && anyUnsuccessful {
		return nodeSkip
	}
	if n.guard == GuardAllAncestorsSucceeded {
		seen := make(map[*TaskNode]bool)
		for _, p := range preds {
			if !j.lineageSucceeded(p, seen) {
				return nodeSkip
			}
		}
	}
	return nodeReady
}

// lineageSucceeded reports whether n and all of its ancestors succeeded.
// seen holds nodes already known to have a successful lineage.
func (j *Job) lineageSucceeded(n *TaskNode, seen map[*TaskNode]bool) bool {
	if seen[n] {
		return true
	}
	if n.state != domain.TaskSucceeded {
		return false
	}
	for _, p := range j.graph.graph.Predecessors(n) {
		if !j.lineageSucceeded(p, seen) {
			return false
		}
	}
	seen[n] = true
	return true
}

func (j *Job) launch(ctx context.Context, n *TaskNode, results chan<- result) {
	e := j.engine
	go func() {
		// ctx never ends; the job context carries no cancellation.
		_ = e.taskPool.Acquire(ctx, 1)
		defer e.taskPool.Release(1)
		e.runningTasks.Add(1)
		defer e.runningTasks.Add(-1)

		r := result{node: n, started: time.Now()}
		r.sub, r.err = j.execute(ctx, n.task)
		r.finished = time.Now()
		results <- r
	}()
}

// execute runs one task, recovering panics into a failure.
func (j *Job) execute(ctx context.Context, task Task) (sub *TaskGraph, err error) {
	defer func() {
		if p := recover(); p != nil {
			sub, err = nil, fmt.Errorf("%w: %v", domain.ErrTaskPanic, p)
			j.log.Error("task panicked", zap.String("task", task.Name()), zap.Any("panic", p))
			j.engine.alert(ctx, domain.Alert{
				Kind:    domain.AlertTaskPanic,
				Message: fmt.Sprintf("job %q task %q: %v", j.name, task.Name(), p),
				JobID:   j.id,
			})
		}
	}()

	j.log.Debug("task started", zap.String("task", task.Name()))
	if err := task.Execute(ctx); err != nil {
		return nil, err
	}
	if m, ok := task.(MetaTask); ok {
		return m.TaskGraph(), nil
	}
	return nil, nil
}

// complete applies a finished node. A sub-graph that cannot be spliced fails
// the node; that error is returned for alerting. Caller holds mu.
func (j *Job) complete(r result) error {
	n := r.node
	n.startedAt, n.completedAt = r.started, r.finished

	var spliceErr error
	if r.err == nil && !r.sub.IsEmpty() {
		if spliceErr = j.graph.splice(n, r.sub); spliceErr != nil {
			r.err = spliceErr
		} else {
			j.log.Debug("sub-graph spliced", zap.String("task", n.Name()), zap.Int("tasks", r.sub.TaskCount()))
		}
	}

	if r.err != nil {
		n.state = domain.TaskFailed
		n.err = r.err
		j.failures = append(j.failures, Failure{Task: n.Name(), Err: r.err})
		j.log.Warn("task failed", zap.String("task", n.Name()), zap.Error(r.err))
		return spliceErr
	}
	n.state = domain.TaskSucceeded
	return nil
}

func (j *Job) notifyTasks(nodes []NodeInfo) {
	for _, ni := range nodes {
		j.engine.obs.TaskFinished(ni.State)
		for _, l := range j.taskListeners {
			j.callListener(func() { l(j, ni) })
		}
	}
}

// finish computes the status, runs job listeners and marks the job done.
func (j *Job) finish() {
	e := j.engine
	j.mu.Lock()
	j.state = domain.JobCompleted
	j.completedAt = time.Now()
	j.status = domain.JobSucceeded
	if len(j.failures) > 0 {
		j.status = domain.JobFailed
	}
	status, elapsed := j.status, j.completedAt.Sub(j.startedAt)
	j.mu.Unlock()

	if status == domain.JobSucceeded {
		e.succeeded.Add(1)
	} else {
		e.failed.Add(1)
	}
	e.obs.JobFinished(status, elapsed)
	j.log.Info("job completed", zap.String("status", string(status)), zap.Duration("elapsed", elapsed))

	for _, l := range j.jobListeners {
		j.callListener(func() { l(j) })
	}
	e.retire(j)
	close(j.done)
}

func (j *Job) callListener(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			j.engine.alert(context.Background(), domain.Alert{
				Kind:    domain.AlertListener,
				Message: fmt.Sprintf("job %q listener: %v", j.name, p),
				JobID:   j.id,
			})
		}
	}()
	fn()
}
