package job

import (
	"fmt"

	"github.com/secfleet/secfleet/internal/domain"
)

// TaskGraph composes tasks into a DAG rooted at a virtual start node. Every
// terminal node is a predecessor of a virtual end node, which is how
// AppendTask finds the current critical path. A task appears at most once;
// node identity follows task identity and tasks are never copied.
//
// TaskGraph is not safe for concurrent use. Submitting a graph copies its
// structure, so the caller's graph is never mutated by the engine.
type TaskGraph struct {
	graph  *Graph[*TaskNode]
	start  *TaskNode
	end    *TaskNode
	byTask map[Task]*TaskNode
	nextID int
}

// NewTaskGraph returns an empty graph.
func NewTaskGraph() *TaskGraph {
	tg := &TaskGraph{
		graph:  NewGraph[*TaskNode](),
		start:  &TaskNode{id: 0, virtual: startNodeName, guard: GuardAllPredecessorsCompleted, state: domain.TaskPending},
		end:    &TaskNode{id: -1, virtual: endNodeName, guard: GuardAllPredecessorsCompleted, state: domain.TaskPending},
		byTask: make(map[Task]*TaskNode),
		nextID: 1,
	}
	tg.graph.AddNode(tg.start)
	tg.graph.AddNode(tg.end)
	return tg
}

func (tg *TaskGraph) newNode(task Task, guard TaskGuard) *TaskNode {
	n := &TaskNode{id: tg.nextID, task: task, guard: guard, state: domain.TaskPending}
	tg.nextID++
	tg.graph.AddNode(n)
	tg.byTask[task] = n
	return n
}

func (tg *TaskGraph) checkNew(task Task) error {
	if task == nil {
		return domain.ErrNilTask
	}
	if _, ok := tg.byTask[task]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateTask, task.Name())
	}
	return nil
}

// AddTask adds task after the given predecessors with the default guard.
// Without predecessors the task becomes an independent root.
func (tg *TaskGraph) AddTask(task Task, predecessors ...Task) error {
	return tg.AddTaskWithGuard(task, GuardDefault, predecessors...)
}

// AddTaskWithGuard adds task after the given predecessors with guard.
// Every predecessor must already be part of the graph.
func (tg *TaskGraph) AddTaskWithGuard(task Task, guard TaskGuard, predecessors ...Task) error {
	if err := tg.checkNew(task); err != nil {
		return err
	}
	preds := []*TaskNode{tg.start}
	if len(predecessors) > 0 {
		preds = preds[:0]
		for _, p := range predecessors {
			pn, ok := tg.byTask[p]
			if !ok {
				name := "<nil>"
				if p != nil {
					name = p.Name()
				}
				return fmt.Errorf("%w: predecessor %s", domain.ErrTaskNotInGraph, name)
			}
			preds = append(preds, pn)
		}
	}

	n := tg.newNode(task, guard)
	for _, p := range preds {
		tg.graph.AddEdge(p, n)
		tg.graph.RemoveEdge(p, tg.end)
	}
	tg.graph.AddEdge(n, tg.end)
	return nil
}

// AppendTask adds task as the successor of every current terminal node.
// On an empty graph the task becomes a root.
func (tg *TaskGraph) AppendTask(task Task, guard TaskGuard) error {
	if err := tg.checkNew(task); err != nil {
		return err
	}
	terminals := tg.terminals()
	n := tg.newNode(task, guard)
	for _, t := range terminals {
		tg.graph.AddEdge(t, n)
		tg.graph.RemoveEdge(t, tg.end)
	}
	tg.graph.AddEdge(n, tg.end)
	return nil
}

// AddTaskGraph merges sub in as an independent parallel branch: its roots
// become roots of tg and its leaves become leaves of tg. Tasks already in tg
// are reused rather than duplicated. sub itself is not modified.
func (tg *TaskGraph) AddTaskGraph(sub *TaskGraph) error {
	if sub.IsEmpty() {
		return nil
	}
	return tg.merge(sub, []*TaskNode{tg.start}, []*TaskNode{tg.end}, nil, true)
}

// AppendTaskGraph merges sub after every current terminal node. The roots
// of sub take guard. Every node of tg precedes a terminal, so sub must not
// share tasks with tg.
func (tg *TaskGraph) AppendTaskGraph(sub *TaskGraph, guard TaskGuard) error {
	if sub.IsEmpty() {
		return nil
	}
	for _, sn := range sub.Nodes() {
		if _, ok := tg.byTask[sn.task]; ok {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateTask, sn.Name())
		}
	}
	terminals := tg.terminals()
	if err := tg.merge(sub, terminals, []*TaskNode{tg.end}, &guard, false); err != nil {
		return err
	}
	for _, t := range terminals {
		tg.graph.RemoveEdge(t, tg.end)
	}
	return nil
}

// splice inserts sub between at and its current successors: the roots of sub
// follow at and the leaves of sub precede everything that followed at.
// Tasks shared with tg are rejected; they may already have run.
func (tg *TaskGraph) splice(at *TaskNode, sub *TaskGraph) error {
	if sub.IsEmpty() {
		return nil
	}
	succs := tg.graph.Successors(at)
	if err := tg.merge(sub, []*TaskNode{at}, succs, nil, false); err != nil {
		return err
	}
	for _, s := range succs {
		tg.graph.RemoveEdge(at, s)
	}
	return nil
}

// merge copies the nodes and edges of sub into tg. Edges out of sub's start
// node are attached to each of heads and edges into sub's end node to each
// of tails. tg is left untouched when merge fails.
func (tg *TaskGraph) merge(sub *TaskGraph, heads, tails []*TaskNode, rootGuard *TaskGuard, allowShared bool) error {
	subNodes := sub.Nodes()
	if !allowShared {
		for _, sn := range subNodes {
			if _, ok := tg.byTask[sn.task]; ok {
				return fmt.Errorf("%w: %s", domain.ErrGraphSplice, sn.Name())
			}
		}
	}

	mapped := make(map[*TaskNode]*TaskNode, len(subNodes))
	created := make(map[*TaskNode]bool, len(subNodes))
	for _, sn := range subNodes {
		if n, ok := tg.byTask[sn.task]; ok {
			mapped[sn] = n
			continue
		}
		mapped[sn] = tg.newNode(sn.task, sn.guard)
		created[mapped[sn]] = true
	}

	for _, sn := range subNodes {
		n := mapped[sn]
		for _, p := range sub.graph.Predecessors(sn) {
			if p != sub.start {
				tg.graph.AddEdge(mapped[p], n)
				continue
			}
			for _, h := range heads {
				tg.graph.AddEdge(h, n)
			}
			// A reused node keeps the guard it already had.
			if rootGuard != nil && created[n] {
				n.guard = *rootGuard
			}
		}
		if sub.graph.HasEdge(sn, sub.end) {
			for _, t := range tails {
				tg.graph.AddEdge(n, t)
			}
		}
	}

	// Only leaves precede the end node.
	for _, sn := range subNodes {
		n := mapped[sn]
		if tg.graph.HasEdge(n, tg.end) && len(tg.graph.Successors(n)) > 1 {
			tg.graph.RemoveEdge(n, tg.end)
		}
	}
	return nil
}

// terminals returns the current leaves, or the start node when empty.
func (tg *TaskGraph) terminals() []*TaskNode {
	if t := tg.graph.Predecessors(tg.end); len(t) > 0 {
		return t
	}
	return []*TaskNode{tg.start}
}

// clone copies the structure of tg into a fresh graph with fresh nodes.
func (tg *TaskGraph) clone() *TaskGraph {
	c := NewTaskGraph()
	_ = c.AddTaskGraph(tg)
	return c
}

// TaskCount returns the number of tasks, excluding the virtual nodes.
func (tg *TaskGraph) TaskCount() int { return len(tg.byTask) }

// IsEmpty reports whether the graph holds no tasks. A nil graph is empty.
func (tg *TaskGraph) IsEmpty() bool { return tg == nil || len(tg.byTask) == 0 }

// Graph returns the underlying graph, virtual nodes included.
func (tg *TaskGraph) Graph() *Graph[*TaskNode] { return tg.graph }

// StartTaskNode returns the virtual root; its successors are the true roots.
func (tg *TaskGraph) StartTaskNode() *TaskNode { return tg.start }

// EndTaskNode returns the virtual sink; its predecessors are the leaves.
func (tg *TaskGraph) EndTaskNode() *TaskNode { return tg.end }

// Node returns the node holding task.
func (tg *TaskGraph) Node(task Task) (*TaskNode, bool) {
	n, ok := tg.byTask[task]
	return n, ok
}

// Nodes returns the task nodes in insertion order, virtual nodes excluded.
func (tg *TaskGraph) Nodes() []*TaskNode {
	out := make([]*TaskNode, 0, len(tg.byTask))
	for _, n := range tg.graph.Nodes() {
		if !n.IsVirtual() {
			out = append(out, n)
		}
	}
	return out
}

// Tasks returns the tasks in insertion order.
func (tg *TaskGraph) Tasks() []Task {
	nodes := tg.Nodes()
	out := make([]Task, len(nodes))
	for i, n := range nodes {
		out[i] = n.task
	}
	return out
}

// Objects returns the union of the lock sets of every task in the graph.
func (tg *TaskGraph) Objects() []domain.LockObjectReference {
	var refs []domain.LockObjectReference
	for _, n := range tg.Nodes() {
		refs = append(refs, n.task.Objects()...)
	}
	return domain.SortLockRefs(refs)
}
