// Package dag runs named tasks as a dependency graph.
//
// Targets are declared as Series and Parallel compositions of task names.
// Flatten turns a composition into a Graph: series order becomes dependency
// edges, parallel branches become independent nodes, and a name used more
// than once collapses into a single node. An Executor then runs the graph,
// starting every ready node in its own goroutine up to a concurrency bound.
//
// State model:
//
//	PENDING -> RUNNING -> COMPLETED
//	                   -> FAILED   (dependents become SKIPPED)
//	PENDING -> SKIPPED
//
// The first failure cancels the run context; in-flight tasks are waited for
// and every task that has not started is marked SKIPPED.
package dag
