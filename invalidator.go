package turbotask

import "github.com/google/uuid"

// Invalidator is a token bound to a specific task that, when fired,
// invalidates it. TaskId/ScopeId stay
// dense uint64s for O(1) indexing into the Backend's maps (spec §3
// "opaque, dense, monotonically issued"); the correlation id exists solely
// so an external invalidation source (a file watcher, a network poller)
// can log or trace one specific firing without that tracing concern
// leaking into the hot-path identifiers (§10 [DOMAIN]).
type Invalidator struct {
	task        TaskId
	correlation uuid.UUID
	backend     *Backend
}

// Task returns the task this invalidator is bound to.
func (inv Invalidator) Task() TaskId { return inv.task }

// Correlation returns the id distinguishing this invalidator instance from
// any other ever issued for the same task, for tracing a specific firing.
func (inv Invalidator) Correlation() uuid.UUID { return inv.correlation }

// Fire invalidates the bound task.
func (inv Invalidator) Fire() {
	inv.backend.Invalidate(inv)
}

func (b *Backend) newInvalidator(task TaskId) Invalidator {
	return Invalidator{task: task, correlation: uuid.New(), backend: b}
}
