package job

import (
	"errors"
	"slices"
	"testing"

	"github.com/secfleet/secfleet/internal/domain"
)

// ─── Graph Tests ────────────────────────────────────────────────────────────

func TestGraph_Edges(t *testing.T) {
	g := NewGraph[string]()
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")
	g.AddEdge("b", "d")
	g.AddEdge("c", "d")
	g.AddEdge("a", "b") // duplicate

	if got := g.Successors("a"); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("Successors(a) = %v", got)
	}
	if got := g.Predecessors("d"); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("Predecessors(d) = %v", got)
	}
	if got := g.NodesWithNoPredecessors(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("roots = %v", got)
	}
	if g.Len() != 4 {
		t.Errorf("Len = %d, want 4", g.Len())
	}

	g.RemoveEdge("a", "b")
	if g.HasEdge("a", "b") {
		t.Error("edge a->b still present")
	}
	if got := g.NodesWithNoPredecessors(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("roots after removal = %v", got)
	}
}

func TestGraph_AddNodeOnce(t *testing.T) {
	g := NewGraph[int]()
	if !g.AddNode(1) {
		t.Error("first AddNode should report true")
	}
	if g.AddNode(1) {
		t.Error("second AddNode should report false")
	}
	if !g.Contains(1) || g.Contains(2) {
		t.Error("Contains mismatch")
	}
}

// ─── TaskGraph Tests ────────────────────────────────────────────────────────

func names(ns []*TaskNode) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Name()
	}
	slices.Sort(out)
	return out
}

func TestTaskGraph_AddTask(t *testing.T) {
	tg := NewTaskGraph()
	a, b, c := &testTask{name: "a"}, &testTask{name: "b"}, &testTask{name: "c"}
	mustAdd(t, tg.AddTask(a))
	mustAdd(t, tg.AddTask(b))
	mustAdd(t, tg.AddTask(c, a, b))

	g := tg.Graph()
	if got := names(g.Successors(tg.StartTaskNode())); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("roots = %v", got)
	}
	if got := names(g.Predecessors(tg.EndTaskNode())); !slices.Equal(got, []string{"c"}) {
		t.Errorf("leaves = %v", got)
	}
	cn, _ := tg.Node(c)
	if cn.Guard() != GuardDefault {
		t.Errorf("guard = %s, want default", cn.Guard())
	}
	if tg.TaskCount() != 3 {
		t.Errorf("TaskCount = %d, want 3", tg.TaskCount())
	}
}

func TestTaskGraph_AddTaskErrors(t *testing.T) {
	tg := NewTaskGraph()
	a := &testTask{name: "a"}
	mustAdd(t, tg.AddTask(a))

	if err := tg.AddTask(a); !errors.Is(err, domain.ErrDuplicateTask) {
		t.Errorf("duplicate: err = %v", err)
	}
	if err := tg.AddTask(&testTask{name: "b"}, &testTask{name: "stranger"}); !errors.Is(err, domain.ErrTaskNotInGraph) {
		t.Errorf("unknown predecessor: err = %v", err)
	}
	if err := tg.AddTask(nil); !errors.Is(err, domain.ErrNilTask) {
		t.Errorf("nil task: err = %v", err)
	}
	if tg.TaskCount() != 1 {
		t.Errorf("failed adds changed the graph: %d tasks", tg.TaskCount())
	}
}

func TestTaskGraph_AppendTask(t *testing.T) {
	tg := NewTaskGraph()
	a, b, c := &testTask{name: "a"}, &testTask{name: "b"}, &testTask{name: "c"}

	mustAdd(t, tg.AppendTask(a, GuardDefault)) // empty graph: becomes a root
	mustAdd(t, tg.AddTask(b))
	mustAdd(t, tg.AppendTask(c, GuardAllPredecessorsCompleted))

	g := tg.Graph()
	if got := names(g.Predecessors(mustNode(t, tg, c))); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("preds(c) = %v", got)
	}
	if got := names(g.Predecessors(tg.EndTaskNode())); !slices.Equal(got, []string{"c"}) {
		t.Errorf("leaves = %v", got)
	}
	if mustNode(t, tg, c).Guard() != GuardAllPredecessorsCompleted {
		t.Error("append guard not kept")
	}
}

func mustNode(t *testing.T, tg *TaskGraph, task Task) *TaskNode {
	t.Helper()
	n, ok := tg.Node(task)
	if !ok {
		t.Fatalf("task %s not in graph", task.Name())
	}
	return n
}

func TestTaskGraph_AddTaskGraph(t *testing.T) {
	base := NewTaskGraph()
	a, b := &testTask{name: "a"}, &testTask{name: "b"}
	mustAdd(t, base.AddTask(a))
	mustAdd(t, base.AppendTask(b, GuardDefault))

	sub := NewTaskGraph()
	x, y, z := &testTask{name: "x"}, &testTask{name: "y"}, &testTask{name: "z"}
	mustAdd(t, sub.AddTask(x))
	mustAdd(t, sub.AddTask(y, x))
	mustAdd(t, sub.AddTask(z))

	baseCount, subCount := base.TaskCount(), sub.TaskCount()
	mustAdd(t, base.AddTaskGraph(sub))

	if base.TaskCount() != baseCount+subCount {
		t.Errorf("TaskCount = %d, want %d", base.TaskCount(), baseCount+subCount)
	}
	g := base.Graph()
	if got := names(g.Successors(base.StartTaskNode())); !slices.Equal(got, []string{"a", "x", "z"}) {
		t.Errorf("roots = %v", got)
	}
	if got := names(g.Predecessors(base.EndTaskNode())); !slices.Equal(got, []string{"b", "y", "z"}) {
		t.Errorf("leaves = %v", got)
	}
	if got := names(g.Predecessors(mustNode(t, base, y))); !slices.Equal(got, []string{"x"}) {
		t.Errorf("preds(y) = %v", got)
	}
	if sub.TaskCount() != subCount {
		t.Error("sub graph was modified")
	}

	// Merging again never duplicates nodes.
	mustAdd(t, base.AddTaskGraph(sub))
	if base.TaskCount() != baseCount+subCount {
		t.Errorf("re-merge duplicated nodes: %d", base.TaskCount())
	}
	// Empty and nil graphs are no-ops.
	mustAdd(t, base.AddTaskGraph(NewTaskGraph()))
	mustAdd(t, base.AddTaskGraph(nil))
	if base.TaskCount() != baseCount+subCount {
		t.Error("empty merge changed the graph")
	}
}

func TestTaskGraph_AppendTaskGraph(t *testing.T) {
	base := NewTaskGraph()
	a := &testTask{name: "a"}
	mustAdd(t, base.AddTask(a))

	sub := NewTaskGraph()
	x, y := &testTask{name: "x"}, &testTask{name: "y"}
	mustAdd(t, sub.AddTask(x))
	mustAdd(t, sub.AddTask(y))

	mustAdd(t, base.AppendTaskGraph(sub, GuardAllPredecessorsCompleted))
	g := base.Graph()
	for _, task := range []Task{x, y} {
		n := mustNode(t, base, task)
		if got := names(g.Predecessors(n)); !slices.Equal(got, []string{"a"}) {
			t.Errorf("preds(%s) = %v", task.Name(), got)
		}
		if n.Guard() != GuardAllPredecessorsCompleted {
			t.Errorf("guard(%s) = %s", task.Name(), n.Guard())
		}
	}
	if g.HasEdge(mustNode(t, base, a), base.EndTaskNode()) {
		t.Error("a should no longer be a leaf")
	}
}

func TestTaskGraph_AddTaskGraphReusedNodeLeavesEnd(t *testing.T) {
	base := NewTaskGraph()
	a := &testTask{name: "a"}
	mustAdd(t, base.AddTaskWithGuard(a, GuardAllPredecessorsCompleted))

	sub := NewTaskGraph()
	s := &testTask{name: "s"}
	mustAdd(t, sub.AddTask(a))
	mustAdd(t, sub.AddTask(s, a))
	mustAdd(t, base.AddTaskGraph(sub))

	g := base.Graph()
	an := mustNode(t, base, a)
	if g.HasEdge(an, base.EndTaskNode()) {
		t.Error("a gained a successor but is still a leaf")
	}
	if got := names(g.Predecessors(base.EndTaskNode())); !slices.Equal(got, []string{"s"}) {
		t.Errorf("leaves = %v", got)
	}
	if an.Guard() != GuardAllPredecessorsCompleted {
		t.Errorf("guard(a) = %s", an.Guard())
	}

	// Appending after a would put it on a cycle.
	again := NewTaskGraph()
	mustAdd(t, again.AddTask(a))
	if err := base.AppendTaskGraph(again, GuardDefault); !errors.Is(err, domain.ErrDuplicateTask) {
		t.Errorf("AppendTaskGraph(shared) err = %v", err)
	}
	if an.Guard() != GuardAllPredecessorsCompleted || base.TaskCount() != 2 {
		t.Errorf("failed append changed the graph: guard %s, %d tasks", an.Guard(), base.TaskCount())
	}
}

func TestTaskGraph_Splice(t *testing.T) {
	tg := NewTaskGraph()
	m, after := &testTask{name: "m"}, &testTask{name: "after"}
	mustAdd(t, tg.AddTask(m))
	mustAdd(t, tg.AddTask(after, m))

	sub := NewTaskGraph()
	x, y := &testTask{name: "x"}, &testTask{name: "y"}
	mustAdd(t, sub.AddTask(x))
	mustAdd(t, sub.AddTask(y, x))

	if err := tg.splice(mustNode(t, tg, m), sub); err != nil {
		t.Fatalf("splice: %v", err)
	}
	g := tg.Graph()
	if got := names(g.Successors(mustNode(t, tg, m))); !slices.Equal(got, []string{"x"}) {
		t.Errorf("succ(m) = %v", got)
	}
	if got := names(g.Predecessors(mustNode(t, tg, after))); !slices.Equal(got, []string{"y"}) {
		t.Errorf("preds(after) = %v", got)
	}

	shared := NewTaskGraph()
	mustAdd(t, shared.AddTask(after))
	if err := tg.splice(mustNode(t, tg, y), shared); !errors.Is(err, domain.ErrGraphSplice) {
		t.Errorf("shared splice: err = %v", err)
	}
}

func TestTaskGraph_Objects(t *testing.T) {
	ref := func(id int64) domain.LockObjectReference {
		return domain.LockObjectReference{Type: domain.ObjectVirtualSystem, ID: id}
	}
	tg := NewTaskGraph()
	mustAdd(t, tg.AddTask(&testTask{name: "a", objects: []domain.LockObjectReference{ref(2), ref(1)}}))
	mustAdd(t, tg.AddTask(&testTask{name: "b", objects: []domain.LockObjectReference{ref(1)}}))

	objs := tg.Objects()
	if len(objs) != 2 || objs[0].ID != 1 || objs[1].ID != 2 {
		t.Errorf("Objects = %v", objs)
	}
}
