package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/secfleet/secfleet/internal/domain"
	"github.com/secfleet/secfleet/internal/job/lock"
)

// recorder keeps a global sequence of task start and end events.
type recorder struct {
	mu     sync.Mutex
	seq    int
	starts map[string]int
	ends   map[string]int
}

func newRecorder() *recorder {
	return &recorder{starts: make(map[string]int), ends: make(map[string]int)}
}

func (r *recorder) start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.starts[name] = r.seq
}

func (r *recorder) end(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.ends[name] = r.seq
}

func (r *recorder) ran(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.starts[name]
	return ok
}

// before reports whether a ended before b started.
func (r *recorder) before(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ea, okA := r.ends[a]
	sb, okB := r.starts[b]
	return okA && okB && ea < sb
}

type testTask struct {
	name    string
	objects []domain.LockObjectReference
	shared  []domain.LockObjectReference
	err     error
	panics  bool
	rec     *recorder
	run     func(ctx context.Context)
	runs    atomic.Int32
}

func (t *testTask) Name() string                          { return t.name }
func (t *testTask) Objects() []domain.LockObjectReference { return t.objects }

func (t *testTask) Execute(ctx context.Context) error {
	t.runs.Add(1)
	if t.rec != nil {
		t.rec.start(t.name)
		defer t.rec.end(t.name)
	}
	if t.run != nil {
		t.run(ctx)
	}
	if t.panics {
		panic("boom")
	}
	return t.err
}

type readTask struct{ *testTask }

func (t readTask) SharedObjects() []domain.LockObjectReference { return t.shared }

type testMeta struct {
	*testTask
	build func() *TaskGraph
	sub   *TaskGraph
}

func (m *testMeta) Execute(ctx context.Context) error {
	if err := m.testTask.Execute(ctx); err != nil {
		return err
	}
	m.sub = m.build()
	return nil
}

func (m *testMeta) TaskGraph() *TaskGraph { return m.sub }

type testAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *testAlerter) Raise(_ context.Context, al domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, al)
	return nil
}

func (a *testAlerter) kinds() []domain.AlertKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.AlertKind, len(a.alerts))
	for i, al := range a.alerts {
		out[i] = al.Kind
	}
	return out
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(lock.NewManager(), cfg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e
}

func submitAndWait(t *testing.T, e *Engine, name string, tg *TaskGraph, opts ...SubmitOption) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	j, err := e.SubmitAndWait(ctx, name, tg, opts...)
	if err != nil {
		t.Fatalf("SubmitAndWait(%s): %v", name, err)
	}
	return j
}

func mustAdd(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("building graph: %v", err)
	}
}

func nodeStates(j *Job) map[string]domain.TaskState {
	out := make(map[string]domain.TaskState)
	for _, n := range j.Nodes() {
		out[n.Name] = n.State
	}
	return out
}

// barrier blocks each caller until n callers arrived or the timeout hits.
func barrier(n int, timeout time.Duration) (wait func() bool) {
	var mu sync.Mutex
	arrived := 0
	all := make(chan struct{})
	return func() bool {
		mu.Lock()
		arrived++
		if arrived == n {
			close(all)
		}
		mu.Unlock()
		select {
		case <-all:
			return true
		case <-time.After(timeout):
			return false
		}
	}
}
