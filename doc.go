// Package turbotask implements the in-process core of an incremental,
// demand-driven task engine: it memoizes the results of task bodies keyed
// by their inputs, tracks fine-grained dependencies between them, and
// re-executes only the transitively affected subset when something
// changes.
//
// # Overview
//
// The engine is organized around three concepts:
//
//  1. Task: a memoized computation, keyed by (FunctionId, inputs), that
//     moves through a small state machine (Dirty, Scheduled, InProgress,
//     InProgressDirty, Done) as it is read, invalidated and re-executed.
//  2. Scope: a node in a DAG that aggregates whether a subgraph is
//     currently observed, how many of its member tasks are unfinished,
//     and which of its tasks are waiting to be scheduled once observation
//     starts.
//  3. Backend: the lookup table from TaskId/ScopeId to their objects, plus
//     the cross-entity locking helpers and the bridge to an external
//     Executor that actually runs task bodies.
//
// # Basic usage
//
//	backend := turbotask.NewBackend(inlineExec)
//
//	source := backend.CreateOnceTask(func(ctx *turbotask.ExecCtx) (turbotask.ValueHandle, error) {
//	    return turbotask.TaskOutput(ctx.TaskID()), nil // a task is free to link to itself once
//	})
//
//	add := backend.LookupOrCreate(fnAdd, []any{2, 3}, turbotask.BodyNative, func(ctx *turbotask.ExecCtx) (turbotask.ValueHandle, error) {
//	    return ctx.ReadOutput(source)
//	})
//
//	handle, err := backend.ReadOutput(context.Background(), add, reader, false)
//
// # Scopes and observation
//
// A task is either rooted in exactly one Scope or belongs to a counted
// multiset of inner scopes. Activating a scope (incrementing its
// active_count) schedules every task in its dirty_tasks set; deactivating
// lets dirty tasks accumulate instead of being scheduled eagerly. Inner
// scope multisets that grow past a threshold are promoted to a single
// dedicated root scope (MakeRootScoped) to keep per-scope bookkeeping
// cheap.
//
// # Strongly consistent reads
//
// By default the engine offers eventual consistency: a read may observe a
// value that predates an invalidation still propagating through the
// graph. ReadOutput with strongly_consistent=true promotes the task to a
// root scope if needed, waits for the executor's foreground barrier to
// drain, and waits for that scope to report zero unfinished tasks before
// reading — guaranteeing the returned value reflects every invalidation
// that happened before the call began.
//
// # What this package does not do
//
// It does not run task bodies itself (see the Executor interface, which
// callers must implement), does not resolve arguments or dispatch traits,
// does not serialize cell content, and does not persist state across
// process restarts.
package turbotask
