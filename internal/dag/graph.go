package dag

import (
	"container/heap"
	"context"
	"sort"
)

// RunFunc executes one task.
type RunFunc func(ctx context.Context) error

// Node is a named unit of work.
type Node struct {
	Name string
	Run  RunFunc
}

// Edge declares that To depends on From.
type Edge struct {
	From string
	To   string
}

type edgeIndex struct {
	from int
	to   int
}

// Graph is an immutable, validated DAG. Node order is declaration order.
//
// It is safe for concurrent read access.
type Graph struct {
	nodes    []Node
	index    map[string]int
	outgoing [][]int
	incoming [][]int
	indeg    []int
}

// New builds and validates a graph. It rejects empty or duplicate names,
// nil run functions, edges to unknown nodes, duplicate edges, self-loops and
// cycles.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("no tasks")
	}

	g := &Graph{
		nodes: make([]Node, 0, len(nodes)),
		index: make(map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		if n.Name == "" {
			return nil, invalidf("task name is required")
		}
		if n.Run == nil {
			return nil, invalidf("task %q has no run function", n.Name)
		}
		if _, exists := g.index[n.Name]; exists {
			return nil, invalidf("duplicate task name: %q", n.Name)
		}
		g.index[n.Name] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}

	g.outgoing = make([][]int, len(g.nodes))
	g.incoming = make([][]int, len(g.nodes))
	g.indeg = make([]int, len(g.nodes))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		from, okFrom := g.index[e.From]
		to, okTo := g.index[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown task (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown task (to): %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}
		pair := edgeIndex{from: from, to: to}
		if _, exists := seen[pair]; exists {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		g.outgoing[from] = append(g.outgoing[from], to)
		g.incoming[to] = append(g.incoming[to], from)
		g.indeg[to]++
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}

	if order := g.topoOrderIndices(); len(order) != len(g.nodes) {
		return nil, cycleError(g.findCycle())
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Names returns node names in declaration order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.Name
	}
	return out
}

// Has reports whether the graph contains name.
func (g *Graph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

// Dependencies returns the names name directly depends on.
func (g *Graph) Dependencies(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.incoming[i]))
	for _, p := range g.incoming[i] {
		out = append(out, g.nodes[p].Name)
	}
	return out
}

// TopologicalOrder returns node names in dependency order, ties broken by
// declaration order.
func (g *Graph) TopologicalOrder() []string {
	idx := g.topoOrderIndices()
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = g.nodes[n].Name
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices is Kahn's algorithm with a min-heap ready queue.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle returns one cycle as a closed path of names.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.nodes[cycle[i]].Name)
	}
	return out
}
