package dag

import "fmt"

// Composition describes how task names are combined into a target.
type Composition interface {
	// flatten adds the composition to b and returns its entry and exit nodes.
	flatten(b *builder) (heads, tails []string, err error)
}

type taskRef string

type series []Composition

type parallel []Composition

// Task references a single registered task by name.
func Task(name string) Composition { return taskRef(name) }

// Series runs each part after the previous one has completed.
func Series(parts ...Composition) Composition { return series(parts) }

// Parallel runs every part independently.
func Parallel(parts ...Composition) Composition { return parallel(parts) }

// Tasks is shorthand for a list of Task references.
func Tasks(names ...string) []Composition {
	out := make([]Composition, len(names))
	for i, n := range names {
		out[i] = Task(n)
	}
	return out
}

// Lookup resolves a task name to its run function.
type Lookup func(name string) (RunFunc, bool)

type builder struct {
	lookup Lookup
	nodes  []Node
	seen   map[string]bool
	edges  []Edge
	edgeOK map[Edge]bool
}

func (b *builder) addNode(name string) error {
	run, ok := b.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	b.seen[name] = true
	b.nodes = append(b.nodes, Node{Name: name, Run: run})
	return nil
}

func (b *builder) addEdge(from, to string) {
	e := Edge{From: from, To: to}
	if from == to || b.edgeOK[e] {
		return
	}
	b.edgeOK[e] = true
	b.edges = append(b.edges, e)
}

func (t taskRef) flatten(b *builder) ([]string, []string, error) {
	name := string(t)
	if b.seen[name] {
		return nil, nil, nil
	}
	if err := b.addNode(name); err != nil {
		return nil, nil, err
	}
	return []string{name}, []string{name}, nil
}

func (s series) flatten(b *builder) ([]string, []string, error) {
	var heads, prev []string
	for _, part := range s {
		h, t, err := part.flatten(b)
		if err != nil {
			return nil, nil, err
		}
		if heads == nil {
			heads = h
		}
		for _, from := range prev {
			for _, to := range h {
				b.addEdge(from, to)
			}
		}
		if len(t) > 0 {
			prev = t
		}
	}
	return heads, prev, nil
}

func (p parallel) flatten(b *builder) ([]string, []string, error) {
	var heads, tails []string
	for _, part := range p {
		h, t, err := part.flatten(b)
		if err != nil {
			return nil, nil, err
		}
		heads = append(heads, h...)
		tails = append(tails, t...)
	}
	return heads, tails, nil
}

// Flatten resolves every task name in c through lookup and returns the
// resulting graph. A name referenced more than once becomes one node placed
// at its first reference; later references add nothing.
func Flatten(c Composition, lookup Lookup) (*Graph, error) {
	b := &builder{
		lookup: lookup,
		seen:   make(map[string]bool),
		edgeOK: make(map[Edge]bool),
	}
	if _, _, err := c.flatten(b); err != nil {
		return nil, err
	}
	return New(b.nodes, b.edges)
}
