package turbotask

import "github.com/jky0ung/turbotask/internal/idset"

// makeRootScoped implements spec §4.5: when an Inner multiset crosses the
// rootPromotionThreshold, the task is funneled through a single dedicated
// Root scope instead of maintaining per-scope counts. Promotion is
// idempotent under concurrent callers: re-checked under the task's state
// lock on entry, already-Root tasks return immediately.
func (b *Backend) makeRootScoped(task TaskId) {
	t, ok := b.lookupTask(task)
	if !ok {
		return
	}
	b.promoteToRoot(t)
}

// promoteToRoot performs the actual Inner->Root promotion described in
// spec §4.5 steps 1-6, shared by the threshold-triggered job
// (makeRootScoped) and the forced promotion a strongly consistent read
// requires. Returns false if t was already Root.
func (b *Backend) promoteToRoot(t *Task) bool {
	t.stateMu.Lock()
	if t.scopes.isRoot() {
		t.optimizing = false
		t.stateMu.Unlock()
		return false
	}

	oldScopes := make(map[ScopeId]int, len(t.scopes.inner))
	for sid, count := range t.scopes.inner {
		oldScopes[sid] = count
	}
	notDone := t.stateType != StateDone
	isDirty := t.stateType == StateDirty
	children := t.children.Slice()
	t.stateMu.Unlock()

	root := b.newScope()

	// Step 3: add R as a child of every old scope S with multiplicity c;
	// sum how many additions observed S as active, bump R.active_count by
	// that sum exactly once.
	activeCount := 0
	for sid, count := range oldScopes {
		s, ok := b.lookupScope(sid)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.addChildLocked(root.Id(), count)
		active := s.activeCount > 0
		s.mu.Unlock()
		if active {
			activeCount++
		}
	}
	if activeCount > 0 {
		b.increaseScopeActiveBy(root.Id(), activeCount)
	}

	// Step 2: replace Inner(list) -> Root(R).
	t.stateMu.Lock()
	t.scopes = newRootMembership(root.Id())
	t.optimizing = false
	t.stateMu.Unlock()

	// Step 4: add self to R.
	root.incrementTasks()
	if notDone {
		root.incrementUnfinished()
	}
	if isDirty {
		if root.isActive() {
			t.onActivate(b)
		} else {
			root.markDirty(t.id)
		}
	}

	// Step 5: for each old S, decrement unfinished_tasks (if not Done) and
	// tasks; drop self from S.dirty_tasks.
	for sid := range oldScopes {
		s, ok := b.lookupScope(sid)
		if !ok {
			continue
		}
		s.decrementTasks()
		if notDone {
			s.decrementUnfinished()
		}
		s.unmarkDirty(t.id)
	}

	b.logger().Promoted(t.id, root.Id(), len(oldScopes))

	// Step 6: move this task's children from every old scope into R.
	if len(children) > 0 {
		var oldList []ScopeId
		for sid := range oldScopes {
			oldList = append(oldList, sid)
		}
		b.executor.ScheduleBackendBackgroundJob(Job{
			Kind:     JobRemoveFromScopes,
			Scopes:   oldList,
			Children: idset.FromSlice(children),
		})
		for _, child := range children {
			b.AddTaskToScope(child, root.Id())
		}
	}

	return true
}
