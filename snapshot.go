package turbotask

// ScopeSnapshot is a point-in-time copy of a Scope's counters, exported so
// diagnostics (debug.RenderScopeTree) can render the live DAG without
// reaching into package-private Backend state.
type ScopeSnapshot struct {
	Id              ScopeId
	ActiveCount     uint32
	Tasks           uint32
	UnfinishedTasks uint32
	DirtyTasks      int
	Children        map[ScopeId]int
}

// SnapshotScope copies id's current counters. The second return value is
// false if id is unknown.
func (b *Backend) SnapshotScope(id ScopeId) (ScopeSnapshot, bool) {
	s, ok := b.lookupScope(id)
	if !ok {
		return ScopeSnapshot{}, false
	}
	return ScopeSnapshot{
		Id:              id,
		ActiveCount:     s.ActiveCount(),
		Tasks:           s.Tasks(),
		UnfinishedTasks: s.UnfinishedTasks(),
		DirtyTasks:      s.DirtyTaskCount(),
		Children:        s.ChildScopes(),
	}, true
}

// RootScope returns the dedicated scope a Root/Once task owns, so a host
// can Activate/Deactivate observation of it. The second return value is
// false if task is unknown or currently Inner-scoped rather than Root
// (invariant 1: a task is in exactly one of Root(s) or Inner(bag)).
func (b *Backend) RootScope(task TaskId) (ScopeId, bool) {
	t, ok := b.lookupTask(task)
	if !ok {
		return 0, false
	}
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	if !t.scopes.isRoot() {
		return 0, false
	}
	return t.scopes.root, true
}
