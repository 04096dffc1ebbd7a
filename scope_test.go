package turbotask

import "testing"

func TestScopeTasksCounterUnderflowSafe(t *testing.T) {
	s := newScope(1)
	s.decrementTasks() // no increment yet; must not wrap to a huge uint32
	if got := s.Tasks(); got != 0 {
		t.Fatalf("expected Tasks() to stay 0, got %d", got)
	}
}

func TestScopeAddRemoveChildIdempotentCounts(t *testing.T) {
	// Law: add(k) then remove(k) is a no-op on scope counters.
	s := newScope(1)
	s.mu.Lock()
	count, inserted := s.addChildLocked(2, 1)
	s.mu.Unlock()
	if count != 1 || !inserted {
		t.Fatalf("expected fresh insert with count 1, got count=%d inserted=%v", count, inserted)
	}

	s.mu.Lock()
	newCount, removed := s.removeChildLocked(2, 1)
	s.mu.Unlock()
	if newCount != 0 || !removed {
		t.Fatalf("expected full removal, got count=%d removed=%v", newCount, removed)
	}

	if got := s.ChildScopes(); len(got) != 0 {
		t.Fatalf("expected no children left, got %v", got)
	}
}

func TestScopeDirtyTasksDrain(t *testing.T) {
	s := newScope(1)
	s.markDirty(10)
	s.markDirty(11)

	if s.DirtyTaskCount() != 2 {
		t.Fatalf("expected 2 dirty tasks, got %d", s.DirtyTaskCount())
	}

	drained := s.drainDirtyTasks()
	if len(drained) != 2 {
		t.Fatalf("expected to drain 2 tasks, got %d", len(drained))
	}
	if s.DirtyTaskCount() != 0 {
		t.Fatalf("expected dirty set empty after drain, got %d", s.DirtyTaskCount())
	}
}

func TestScopeUnmarkDirtyRemovesSingleEntry(t *testing.T) {
	s := newScope(1)
	s.markDirty(10)
	s.markDirty(11)
	s.unmarkDirty(10)

	if s.DirtyTaskCount() != 1 {
		t.Fatalf("expected 1 dirty task left, got %d", s.DirtyTaskCount())
	}
}

func TestScopeActiveCountStartsZero(t *testing.T) {
	s := newScope(1)
	if s.isActive() {
		t.Fatalf("expected a fresh scope to be inactive")
	}
}
