package turbotask

import "github.com/jky0ung/turbotask/internal/idset"

// traversalFrame is one unit of deferred subgraph traversal work: a batch
// of children still waiting to be added to (or removed from) scope, plus
// whether the owning task is mid root-promotion.
type traversalFrame struct {
	children        []TaskId
	willBeOptimized bool
}

// AddTaskToScope implements spec §4.4's "Adding to a scope (shallow)".
func (b *Backend) AddTaskToScope(task TaskId, scope ScopeId) {
	t, ok := b.lookupTask(task)
	if !ok {
		return
	}
	if _, ok := b.lookupScope(scope); !ok {
		return
	}

	t.stateMu.Lock()

	if t.scopes.isRoot() {
		root := t.scopes.root
		t.stateMu.Unlock()
		if root != scope {
			b.addRootAsChildOfScope(scope, root)
		}
		return
	}

	before := t.scopes.inner[scope]
	t.scopes.inner[scope] = before + 1
	if before != 0 {
		t.stateMu.Unlock()
		return
	}

	bagSize := len(t.scopes.inner)
	shouldPromote := bagSize == rootPromotionThreshold && !t.optimizing
	if shouldPromote {
		t.optimizing = true
	}
	notDone := t.stateType != StateDone
	isDirty := t.stateType == StateDirty
	children := t.children.Slice()
	t.stateMu.Unlock()

	s, ok := b.lookupScope(scope)
	if !ok {
		return
	}
	s.incrementTasks()
	if notDone {
		s.incrementUnfinished()
	}
	if isDirty {
		if s.isActive() {
			t.onActivate(b)
		} else {
			s.markDirty(task)
		}
	}

	if shouldPromote {
		b.executor.ScheduleBackendBackgroundJob(Job{Kind: JobMakeRootScoped, Task: task})
	}

	if len(children) > 0 {
		b.enqueueAddChildren(children, scope, shouldPromote)
	}
}

// RemoveTaskFromScope implements spec §4.4's "Removing from a scope
// (shallow)", symmetric to AddTaskToScope.
func (b *Backend) RemoveTaskFromScope(task TaskId, scope ScopeId) {
	t, ok := b.lookupTask(task)
	if !ok {
		return
	}

	t.stateMu.Lock()

	if t.scopes.isRoot() {
		root := t.scopes.root
		t.stateMu.Unlock()
		if root != scope {
			b.removeRootAsChildOfScope(scope, root)
		}
		return
	}

	before := t.scopes.inner[scope]
	if before == 0 {
		t.stateMu.Unlock()
		return
	}
	if before > 1 {
		t.scopes.inner[scope] = before - 1
		t.stateMu.Unlock()
		return
	}
	delete(t.scopes.inner, scope)

	notDone := t.stateType != StateDone
	children := t.children.Slice()
	t.stateMu.Unlock()

	s, ok := b.lookupScope(scope)
	if !ok {
		return
	}
	s.decrementTasks()
	if notDone {
		s.decrementUnfinished()
	}
	s.unmarkDirty(task)

	if len(children) > 0 {
		b.enqueueRemoveChildren(children, scope, false)
	}
}

// removeChildrenFromScope is the worker-side half of a JobRemoveFromScope(s)
// job: it removes every id in children from scope, recursing (via the
// bounded queue) into their own children.
func (b *Backend) removeChildrenFromScope(children *idset.Set[TaskId], scope ScopeId, willBeOptimized bool) {
	if children == nil {
		return
	}
	ids := children.Slice()
	b.runRemoveQueue([]traversalFrame{{children: ids, willBeOptimized: willBeOptimized}}, scope)
}

// addRootAsChildOfScope implements the Root(r) branch of "Adding to a
// scope": insert r as a child of parent with count +1; if newly inserted,
// propagate parent's current active_count into r.
func (b *Backend) addRootAsChildOfScope(parent, child ScopeId) {
	ps, ok := b.lookupScope(parent)
	if !ok {
		return
	}
	ps.mu.Lock()
	_, inserted := ps.addChildLocked(child, 1)
	activeCount := ps.activeCount
	ps.mu.Unlock()

	if inserted && activeCount > 0 {
		b.increaseScopeActiveBy(child, int(activeCount))
	}
}

// removeRootAsChildOfScope is the symmetric teardown.
func (b *Backend) removeRootAsChildOfScope(parent, child ScopeId) {
	ps, ok := b.lookupScope(parent)
	if !ok {
		return
	}
	ps.mu.Lock()
	_, removed := ps.removeChildLocked(child, 1)
	activeCount := ps.activeCount
	ps.mu.Unlock()

	if removed && activeCount > 0 {
		b.decreaseScopeActiveBy(child, int(activeCount))
	}
}

// Activate records one external observer on scope, propagating active
// status to children on the 0->1 transition and scheduling/draining dirty
// tasks.
func (b *Backend) Activate(scope ScopeId) {
	b.increaseScopeActiveBy(scope, 1)
}

// Deactivate removes one external observer from scope.
func (b *Backend) Deactivate(scope ScopeId) {
	b.decreaseScopeActiveBy(scope, 1)
}

func (b *Backend) increaseScopeActiveBy(id ScopeId, delta int) {
	if delta <= 0 {
		return
	}
	s, ok := b.lookupScope(id)
	if !ok {
		return
	}

	s.mu.Lock()
	wasInactive := s.activeCount == 0
	s.activeCount += uint32(delta)
	s.mu.Unlock()

	if !wasInactive {
		return
	}

	for _, tid := range s.drainDirtyTasks() {
		if t, ok := b.lookupTask(tid); ok {
			t.onActivate(b)
		}
	}
	for child, count := range s.ChildScopes() {
		b.increaseScopeActiveBy(child, count)
	}
}

func (b *Backend) decreaseScopeActiveBy(id ScopeId, delta int) {
	if delta <= 0 {
		return
	}
	s, ok := b.lookupScope(id)
	if !ok {
		return
	}

	s.mu.Lock()
	if uint32(delta) > s.activeCount {
		delta = int(s.activeCount)
	}
	s.activeCount -= uint32(delta)
	nowInactive := s.activeCount == 0
	s.mu.Unlock()

	if !nowInactive {
		return
	}
	for child, count := range s.ChildScopes() {
		b.decreaseScopeActiveBy(child, count)
	}
}
