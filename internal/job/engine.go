package job

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job/lock"
)

// Config configures the job engine.
type Config struct {
	TaskWorkers   int           // Tasks executing at once, across all jobs
	JobWorkers    int           // Jobs locking or running at once
	LockTimeout   time.Duration // Bound on a job's initial lock acquisition (0 = wait forever)
	CompletedJobs int           // Completed job handles kept for lookup
}

// DefaultConfig returns production engine defaults.
func DefaultConfig() Config {
	return Config{
		TaskWorkers:   8,
		JobWorkers:    4,
		LockTimeout:   30 * time.Second,
		CompletedJobs: 256,
	}
}

// Observer receives engine events, typically to export metrics.
type Observer interface {
	JobStarted()
	JobFinished(status domain.JobStatus, elapsed time.Duration)
	TaskFinished(state domain.TaskState)
	LocksAcquired(wait time.Duration)
	LockTimedOut()
}

type nopObserver struct{}

func (nopObserver) JobStarted()                                 {}
func (nopObserver) JobFinished(domain.JobStatus, time.Duration) {}
func (nopObserver) TaskFinished(domain.TaskState)               {}
func (nopObserver) LocksAcquired(time.Duration)                 {}
func (nopObserver) LockTimedOut()                               {}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.log = l.Named("engine") } }

// WithAlerter sets where systemic failures are surfaced. Alerts are always
// logged.
func WithAlerter(a domain.Alerter) Option { return func(e *Engine) { e.alerter = a } }

// WithObserver sets the engine event observer.
func WithObserver(o Observer) Option { return func(e *Engine) { e.obs = o } }

// WithFirstJobID makes job ids start at id, e.g. past the greatest
// persisted job record.
func WithFirstJobID(id int64) Option { return func(e *Engine) { e.nextID.Store(id - 1) } }

// Engine runs submitted task graphs as jobs on bounded worker pools.
type Engine struct {
	cfg     Config
	locks   *lock.Manager
	log     *zap.Logger
	alerter domain.Alerter
	obs     Observer

	taskPool *semaphore.Weighted
	jobPool  *semaphore.Weighted
	nextID   atomic.Int64

	mu        sync.Mutex
	active    map[int64]*Job
	completed *lru.Cache[int64, *Job]
	closed    bool
	wg        sync.WaitGroup

	submitted    atomic.Int64
	succeeded    atomic.Int64
	failed       atomic.Int64
	lockTimeouts atomic.Int64
	runningTasks atomic.Int64
}

// NewEngine creates an engine locking through locks.
func NewEngine(locks *lock.Manager, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.TaskWorkers <= 0 {
		cfg.TaskWorkers = def.TaskWorkers
	}
	if cfg.JobWorkers <= 0 {
		cfg.JobWorkers = def.JobWorkers
	}
	if cfg.CompletedJobs <= 0 {
		cfg.CompletedJobs = def.CompletedJobs
	}
	completed, _ := lru.New[int64, *Job](cfg.CompletedJobs)

	e := &Engine{
		cfg:       cfg,
		locks:     locks,
		log:       zap.NewNop(),
		obs:       nopObserver{},
		taskPool:  semaphore.NewWeighted(int64(cfg.TaskWorkers)),
		jobPool:   semaphore.NewWeighted(int64(cfg.JobWorkers)),
		active:    make(map[int64]*Job),
		completed: completed,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Locks returns the engine's lock manager.
func (e *Engine) Locks() *lock.Manager { return e.locks }

// SubmitOption configures one submitted job.
type SubmitOption func(*Job)

// WithJobLocks adds locks beyond the ones the graph's tasks declare.
func WithJobLocks(mode lock.Mode, refs ...domain.LockObjectReference) SubmitOption {
	return func(j *Job) {
		for _, ref := range refs {
			j.extraLocks = append(j.extraLocks, lock.Request{Ref: ref, Mode: mode})
		}
	}
}

// WithJobListener registers fn to run when the job completes.
func WithJobListener(fn JobListener) SubmitOption {
	return func(j *Job) { j.jobListeners = append(j.jobListeners, fn) }
}

// WithTaskListener registers fn to run as each task node completes.
func WithTaskListener(fn TaskListener) SubmitOption {
	return func(j *Job) { j.taskListeners = append(j.taskListeners, fn) }
}

// Submit queues tg as a new job and returns immediately. The graph is
// copied, so tg may be reused by the caller. The job runs detached from
// ctx's cancellation; only its values are kept, and tasks find the job
// itself through FromContext.
func (e *Engine) Submit(ctx context.Context, name string, tg *TaskGraph, opts ...SubmitOption) (*Job, error) {
	if tg.IsEmpty() {
		return nil, domain.ErrEmptyGraph
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, domain.ErrEngineClosed
	}
	id := e.nextID.Add(1)
	j := &Job{
		id:       id,
		name:     name,
		owner:    uuid.NewString(),
		engine:   e,
		log:      e.log.With(zap.Int64("job_id", id), zap.String("job", name)),
		graph:    tg.clone(),
		state:    domain.JobQueued,
		queuedAt: time.Now(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	e.active[id] = j
	e.wg.Add(1)
	e.mu.Unlock()
	e.submitted.Add(1)

	runCtx := context.WithValue(context.WithoutCancel(ctx), jobKey{}, j)
	go func() {
		defer e.wg.Done()
		_ = e.jobPool.Acquire(runCtx, 1)
		defer e.jobPool.Release(1)
		j.run(runCtx)
	}()
	return j, nil
}

// SubmitAndWait submits tg and blocks until the job completes or ctx ends.
func (e *Engine) SubmitAndWait(ctx context.Context, name string, tg *TaskGraph, opts ...SubmitOption) (*Job, error) {
	j, err := e.Submit(ctx, name, tg, opts...)
	if err != nil {
		return nil, err
	}
	return j, j.Wait(ctx)
}

// retire moves a completed job from the active set to the completed cache.
func (e *Engine) retire(j *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, j.id)
	e.completed.Add(j.id, j)
}

// Job looks a job up among active and recently completed jobs.
func (e *Engine) Job(id int64) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if j, ok := e.active[id]; ok {
		return j, true
	}
	return e.completed.Get(id)
}

// ActiveJobs returns queued and running jobs ordered by id.
func (e *Engine) ActiveJobs() []*Job {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Job, 0, len(e.active))
	for _, j := range e.active {
		out = append(out, j)
	}
	slices.SortFunc(out, func(a, b *Job) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Accepting reports whether Submit still takes new jobs.
func (e *Engine) Accepting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

// Shutdown stops accepting jobs and waits for running ones to complete, or
// for ctx to end. Running tasks are never interrupted.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) alert(ctx context.Context, a domain.Alert) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	e.log.Error("alert", zap.String("kind", string(a.Kind)), zap.Int64("job_id", a.JobID), zap.String("message", a.Message))
	if e.alerter == nil {
		return
	}
	if err := e.alerter.Raise(ctx, a); err != nil {
		e.log.Error("raise alert", zap.Error(err))
	}
}

// ─── Stats ──────────────────────────────────────────────────────────────────

// Stats holds engine counters.
type Stats struct {
	Submitted    int64 `json:"submitted"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	LockTimeouts int64 `json:"lock_timeouts"`
	ActiveJobs   int   `json:"active_jobs"`
	RunningTasks int64 `json:"running_tasks"`
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	active := len(e.active)
	e.mu.Unlock()
	return Stats{
		Submitted:    e.submitted.Load(),
		Succeeded:    e.succeeded.Load(),
		Failed:       e.failed.Load(),
		LockTimeouts: e.lockTimeouts.Load(),
		ActiveJobs:   active,
		RunningTasks: e.runningTasks.Load(),
	}
}
