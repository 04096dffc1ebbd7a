package turbotask

import (
	"sync"
	"sync/atomic"

	"github.com/jky0ung/turbotask/internal/idset"
)

// Scope is a node in the observation/invalidation DAG: it aggregates
// whether a subgraph is currently observed, how many of its member tasks
// remain unfinished, and which member tasks are waiting to be scheduled
// once observation starts.
type Scope struct {
	id ScopeId

	// state is guarded by mu: active_count, children (with multiplicity)
	// and dirty_tasks must move together.
	mu          sync.Mutex
	activeCount uint32
	children    map[ScopeId]int
	dirtyTasks  *idset.Set[TaskId]

	// tasks/unfinishedTasks are plain atomics: their increment-on-add,
	// decrement-on-remove-or-Done transitions never need to move
	// together with active_count/children/dirty_tasks (spec §5, §9
	// "Lock-free where counters suffice").
	tasks           atomic.Uint32
	unfinishedTasks atomic.Uint32
}

func newScope(id ScopeId) *Scope {
	return &Scope{
		id:         id,
		children:   make(map[ScopeId]int),
		dirtyTasks: idset.New[TaskId](),
	}
}

// Id returns the scope's identity.
func (s *Scope) Id() ScopeId { return s.id }

// isActive reports whether this scope currently has at least one external
// observer. It does not look at parent scopes: a scope
// only inherits active_count explicitly, by propagation at the moment it
// is added as a child (see addRootAsChildOfScope), not by live lookup.
func (s *Scope) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount > 0
}

// ActiveCount returns the current observer count.
func (s *Scope) ActiveCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeCount
}

// Tasks returns the member task count (direct or transitive).
func (s *Scope) Tasks() uint32 { return s.tasks.Load() }

// UnfinishedTasks returns the count of member tasks not yet Done. Spec
// invariant 2: this reaching zero implies every member task is Done.
func (s *Scope) UnfinishedTasks() uint32 { return s.unfinishedTasks.Load() }

// DirtyTaskCount returns the size of this scope's dirty_tasks set.
func (s *Scope) DirtyTaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirtyTasks.Len()
}

// ChildScopes returns a snapshot of this scope's child-scope multiplicity
// map.
func (s *Scope) ChildScopes() map[ScopeId]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ScopeId]int, len(s.children))
	for k, v := range s.children {
		out[k] = v
	}
	return out
}

func (s *Scope) incrementTasks() {
	s.tasks.Add(1)
}

func (s *Scope) decrementTasks() {
	for {
		old := s.tasks.Load()
		if old == 0 {
			return
		}
		if s.tasks.CompareAndSwap(old, old-1) {
			return
		}
	}
}

func (s *Scope) incrementUnfinished() {
	s.unfinishedTasks.Add(1)
}

func (s *Scope) decrementUnfinished() {
	for {
		old := s.unfinishedTasks.Load()
		if old == 0 {
			return
		}
		if s.unfinishedTasks.CompareAndSwap(old, old-1) {
			return
		}
	}
}

func (s *Scope) markDirty(t TaskId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirtyTasks.Add(t)
}

func (s *Scope) unmarkDirty(t TaskId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirtyTasks.Remove(t)
}

// drainDirtyTasks empties and returns the dirty_tasks set, used when the
// scope transitions to active (spec invariant 5: "when a scope transitions
// to active, all its dirty tasks are scheduled and removed from the set").
func (s *Scope) drainDirtyTasks() []TaskId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.dirtyTasks.Slice()
	s.dirtyTasks.Clear()
	return out
}

// addChildLocked records scope child as a child of s with the given
// multiplicity delta. Returns the child's new count and whether it was
// newly inserted. It does not propagate s's active_count to child; callers
// do that after releasing s.mu. Caller holds s.mu.
func (s *Scope) addChildLocked(child ScopeId, delta int) (newCount int, inserted bool) {
	old := s.children[child]
	s.children[child] = old + delta
	return old + delta, old == 0
}

func (s *Scope) removeChildLocked(child ScopeId, delta int) (newCount int, removed bool) {
	old, ok := s.children[child]
	if !ok {
		return 0, false
	}
	newVal := old - delta
	if newVal <= 0 {
		delete(s.children, child)
		return 0, true
	}
	s.children[child] = newVal
	return newVal, false
}
