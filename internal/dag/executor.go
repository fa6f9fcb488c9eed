package dag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/assetpipe/internal/logging"
)

// DefaultConcurrency bounds parallel tasks when Executor.Concurrency is unset.
const DefaultConcurrency = 8

// Executor runs a Graph.
type Executor struct {
	Graph       *Graph
	Concurrency int
	Logger      *logging.Logger
}

// NodeResult records the outcome of one node.
type NodeResult struct {
	Name     string
	State    State
	Duration time.Duration
	Err      error
}

// Result is the outcome of one run.
type Result struct {
	RunID string
	// Nodes are listed in declaration order.
	Nodes []NodeResult
	// Started lists nodes in the order they were started.
	Started []string
}

// Failed returns the nodes that failed.
func (r *Result) Failed() []NodeResult {
	var out []NodeResult
	for _, n := range r.Nodes {
		if n.State == Failed {
			out = append(out, n)
		}
	}
	return out
}

// State returns the final state of name.
func (r *Result) State(name string) State {
	for _, n := range r.Nodes {
		if n.Name == name {
			return n.State
		}
	}
	return ""
}

type outcome struct {
	name string
	dur  time.Duration
	err  error
}

// Run executes the graph until every node is terminal. A node starts as soon
// as all of its dependencies completed, at most Concurrency at a time.
//
// The first failure cancels the context passed to running nodes; Run waits
// for them, marks everything not yet started SKIPPED and returns a NodeError
// for that failure. If ctx is cancelled before all nodes started, Run returns
// ctx.Err().
func (e *Executor) Run(ctx context.Context) (*Result, error) {
	if e.Graph == nil {
		return nil, errors.New("nil graph")
	}
	limit := e.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	log := e.Logger
	if log == nil {
		log = logging.Nop()
	}

	runID := uuid.NewString()
	log = log.WithField("run", runID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := e.Graph
	states := make(States, len(g.nodes))
	for _, n := range g.nodes {
		states[n.Name] = Pending
	}
	durations := make(map[string]time.Duration, len(g.nodes))
	errs := make(map[string]error)
	var started []string

	done := make(chan outcome, len(g.nodes))
	var wg sync.WaitGroup
	inFlight := 0
	var firstErr error

	for {
		if runCtx.Err() == nil {
			for _, name := range Ready(g, states) {
				if inFlight >= limit {
					break
				}
				if err := Transition(states, name, Pending, Running); err != nil {
					cancel()
					wg.Wait()
					return nil, err
				}
				started = append(started, name)
				inFlight++
				run := g.nodes[g.index[name]].Run
				log.Debug("task started", "task", name)

				wg.Add(1)
				go func(name string) {
					defer wg.Done()
					start := time.Now()
					err := safeRun(runCtx, run)
					done <- outcome{name: name, dur: time.Since(start), err: err}
				}(name)
			}
		}

		if inFlight == 0 {
			break
		}

		o := <-done
		inFlight--
		durations[o.name] = o.dur

		if o.err != nil {
			errs[o.name] = o.err
			if err := FailAndPropagate(g, states, o.name); err != nil {
				cancel()
				wg.Wait()
				return nil, err
			}
			if firstErr == nil {
				firstErr = &NodeError{Node: o.name, Err: o.err}
				cancel()
			}
			log.Error("task failed", "task", o.name, "duration", o.dur, "error", o.err)
			continue
		}
		if err := Transition(states, o.name, Running, Completed); err != nil {
			cancel()
			wg.Wait()
			return nil, err
		}
		log.Info("task finished", "task", o.name, "duration", o.dur)
	}
	wg.Wait()

	skipped := 0
	for name, st := range states {
		if st == Pending {
			states[name] = Skipped
		}
		if states[name] == Skipped {
			skipped++
		}
	}
	if firstErr == nil && skipped > 0 && ctx.Err() != nil {
		firstErr = ctx.Err()
	}

	res := &Result{RunID: runID, Started: started}
	for _, n := range g.nodes {
		res.Nodes = append(res.Nodes, NodeResult{
			Name:     n.Name,
			State:    states[n.Name],
			Duration: durations[n.Name],
			Err:      errs[n.Name],
		})
	}
	return res, firstErr
}

// safeRun converts a panicking task into a failure.
func safeRun(ctx context.Context, run RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}
