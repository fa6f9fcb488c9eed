package dag

import (
	"container/heap"
	"fmt"
)

// State is the runtime state of a node within one run.
type State string

const (
	Pending   State = "PENDING"
	Running   State = "RUNNING"
	Completed State = "COMPLETED"
	Failed    State = "FAILED"
	Skipped   State = "SKIPPED"
)

// IsTerminal reports whether the state is final.
func IsTerminal(s State) bool {
	switch s {
	case Completed, Failed, Skipped:
		return true
	default:
		return false
	}
}

// States maps node name to its current State.
type States map[string]State

// Transition moves name from one state to another, rejecting transitions the
// state model does not allow and races where the current state is not from.
func Transition(states States, name string, from, to State) error {
	cur, ok := states[name]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	if !allowed(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	states[name] = to
	return nil
}

func allowed(from, to State) bool {
	switch from {
	case Pending:
		return to == Running || to == Skipped
	case Running:
		return to == Completed || to == Failed
	default:
		return false
	}
}

// Ready returns the pending nodes whose dependencies all completed, in
// canonical order.
func Ready(g *Graph, states States) []string {
	var out []string
	for i, n := range g.nodes {
		if states[n.Name] != Pending {
			continue
		}
		ok := true
		for _, p := range g.incoming[i] {
			if states[g.nodes[p].Name] != Completed {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, n.Name)
		}
	}
	return out
}

// FailAndPropagate marks name FAILED and every node reachable from it
// SKIPPED.
func FailAndPropagate(g *Graph, states States, name string) error {
	start, ok := g.index[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	switch states[name] {
	case Running:
		states[name] = Failed
	case Failed:
	default:
		return fmt.Errorf("cannot fail %q from state %s", name, states[name])
	}

	visited := make([]bool, len(g.nodes))
	visited[start] = true
	hq := &intMinHeap{}
	for _, d := range g.outgoing[start] {
		heap.Push(hq, d)
	}
	for hq.Len() > 0 {
		u := heap.Pop(hq).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		n := g.nodes[u].Name
		switch states[n] {
		case Pending:
			states[n] = Skipped
		case Running:
			return fmt.Errorf("invariant violation: downstream task %q is RUNNING during failure propagation", n)
		}
		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(hq, v)
			}
		}
	}
	return nil
}
