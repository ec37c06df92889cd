// Package job implements the task graph execution engine: composable task
// graphs, the guards that gate each node, and the engine that locks, runs and
// reports whole jobs on a bounded worker pool.
package job

import "slices"

// Graph is a minimal directed graph. It performs no cycle checks; callers
// only ever add forward edges. Iteration follows insertion order. Graph is
// not safe for concurrent use.
type Graph[T comparable] struct {
	nodes []T
	index map[T]struct{}
	succ  map[T][]T
	pred  map[T][]T
}

// NewGraph returns an empty graph.
func NewGraph[T comparable]() *Graph[T] {
	return &Graph[T]{
		index: make(map[T]struct{}),
		succ:  make(map[T][]T),
		pred:  make(map[T][]T),
	}
}

// AddNode adds n. Returns false if n was already present.
func (g *Graph[T]) AddNode(n T) bool {
	if _, ok := g.index[n]; ok {
		return false
	}
	g.index[n] = struct{}{}
	g.nodes = append(g.nodes, n)
	return true
}

// Contains reports whether n is in the graph.
func (g *Graph[T]) Contains(n T) bool {
	_, ok := g.index[n]
	return ok
}

// AddEdge adds an edge from -> to, adding missing nodes. Duplicate edges are
// ignored.
func (g *Graph[T]) AddEdge(from, to T) {
	g.AddNode(from)
	g.AddNode(to)
	if slices.Contains(g.succ[from], to) {
		return
	}
	g.succ[from] = append(g.succ[from], to)
	g.pred[to] = append(g.pred[to], from)
}

// RemoveEdge removes the edge from -> to if present.
func (g *Graph[T]) RemoveEdge(from, to T) {
	g.succ[from] = slices.DeleteFunc(g.succ[from], func(n T) bool { return n == to })
	g.pred[to] = slices.DeleteFunc(g.pred[to], func(n T) bool { return n == from })
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph[T]) HasEdge(from, to T) bool {
	return slices.Contains(g.succ[from], to)
}

// Successors returns a copy of the direct successors of n.
func (g *Graph[T]) Successors(n T) []T { return slices.Clone(g.succ[n]) }

// Predecessors returns a copy of the direct predecessors of n.
func (g *Graph[T]) Predecessors(n T) []T { return slices.Clone(g.pred[n]) }

// NodesWithNoPredecessors returns the roots of the graph.
func (g *Graph[T]) NodesWithNoPredecessors() []T {
	var out []T
	for _, n := range g.nodes {
		if len(g.pred[n]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Nodes returns all nodes in insertion order.
func (g *Graph[T]) Nodes() []T { return slices.Clone(g.nodes) }

// Len returns the number of nodes.
func (g *Graph[T]) Len() int { return len(g.nodes) }
