package turbotask

import "github.com/jky0ung/turbotask/internal/idset"

// Executor is the external contract the engine consumes. It is
// never implemented by this package: a host process supplies one (a thread
// pool, an async runtime, or — for tests — testutil.InlineExecutor).
type Executor interface {
	// Schedule runs task soon. Idempotent: the task's own state guards
	// re-entry, so the executor may call this more than once for the
	// same task without double-running it.
	Schedule(task TaskId)

	// ScheduleBackendBackgroundJob submits job for best-effort,
	// non-blocking execution.
	ScheduleBackendBackgroundJob(job Job)

	// ScheduleBackendForegroundJob submits job for execution observed by
	// the foreground barrier (TryForegroundDone).
	ScheduleBackendForegroundJob(job Job)

	// TryForegroundDone reports whether every foreground job submitted so
	// far has drained. If not, it returns a channel that closes once they
	// have.
	TryForegroundDone() (done bool, listener <-chan struct{})

	// ScheduleNotifyTasksSet invokes invalidate on every task in set.
	ScheduleNotifyTasksSet(set *idset.Set[TaskId])

	// Pin returns an owning handle to the executor for use from task
	// bodies; this engine never calls it itself.
	Pin() any
}

// JobKind enumerates the six background job kinds spec §6 names.
type JobKind uint8

const (
	JobRemoveFromScope JobKind = iota
	JobRemoveFromScopes
	JobMakeRootScoped
	JobRemoveRootScope
	JobAddToScopeQueue
	JobRemoveFromScopeQueue
)

func (k JobKind) String() string {
	switch k {
	case JobRemoveFromScope:
		return "remove_from_scope"
	case JobRemoveFromScopes:
		return "remove_from_scopes"
	case JobMakeRootScoped:
		return "make_root_scoped"
	case JobRemoveRootScope:
		return "remove_root_scope"
	case JobAddToScopeQueue:
		return "add_to_scope_queue"
	case JobRemoveFromScopeQueue:
		return "remove_from_scope_queue"
	default:
		return "unknown"
	}
}

// Job is a unit of deferred work submitted to the Executor. Only the
// fields relevant to Kind are meaningful; the rest are zero.
type Job struct {
	Kind JobKind

	Task   TaskId   // MakeRootScoped, RemoveRootScope
	Scope  ScopeId  // RemoveFromScope
	Scopes []ScopeId // RemoveFromScopes

	Children *idset.Set[TaskId] // RemoveFromScope, RemoveFromScopes

	WillBeOptimized bool // RemoveFromScopes

	Frames       []traversalFrame // AddToScopeQueue, RemoveFromScopeQueue
	PendingCount int
	QueueScope   ScopeId
}
