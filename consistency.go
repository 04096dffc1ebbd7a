package turbotask

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned by read operations against an unknown
// TaskId.
var ErrTaskNotFound = errors.New("turbotask: task not found")

// pollInterval bounds how often ReadOutput/ReadCell re-check a root
// scope's unfinished_tasks count while waiting out a strongly consistent
// read. Spec §3 gives Scope no dedicated "all members done" listener (only
// the atomic unfinished_tasks counter), so this polls rather than blocking
// on a channel — documented as a simplification in DESIGN.md.
const pollInterval = time.Millisecond

// ReadOutput implements spec §6's read_output plus §4.7's
// get_or_wait_output when stronglyConsistent is set. reader is registered
// as a dependent of task's Output (forming the back-edge, spec invariant
// 3) whenever the read succeeds or fails with a value-bearing error.
func (b *Backend) ReadOutput(ctx context.Context, task TaskId, reader TaskId, stronglyConsistent bool) (ValueHandle, error) {
	return b.readOutput(ctx, task, reader, stronglyConsistent, true)
}

// readOutputUntracked mirrors ReadOutput but never registers reader as a
// dependent. Used by ExecCtx on behalf of a Once task: spec §3 says Once
// "does not track dependencies", so it must not form a back-edge that a
// later invalidate() could reach (Once cannot become dirty, spec §5).
func (b *Backend) readOutputUntracked(ctx context.Context, task TaskId) (ValueHandle, error) {
	return b.readOutput(ctx, task, 0, false, false)
}

func (b *Backend) readOutput(ctx context.Context, task TaskId, reader TaskId, stronglyConsistent, track bool) (ValueHandle, error) {
	t, ok := b.lookupTask(task)
	if !ok {
		return ValueHandle{}, ErrTaskNotFound
	}

	if stronglyConsistent {
		if err := b.awaitStronglyConsistent(ctx, t); err != nil {
			return ValueHandle{}, err
		}
	}

	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if track {
		return t.output.Read(reader)
	}
	return t.output.readUntracked()
}

// ReadCell mirrors ReadOutput for one of task's indexed Cells.
func (b *Backend) ReadCell(ctx context.Context, task TaskId, idx CellIndex, reader TaskId, stronglyConsistent bool) (ValueHandle, error) {
	return b.readCell(ctx, task, idx, reader, stronglyConsistent, true)
}

// readCellUntracked mirrors readOutputUntracked for one of task's indexed
// Cells.
func (b *Backend) readCellUntracked(ctx context.Context, task TaskId, idx CellIndex) (ValueHandle, error) {
	return b.readCell(ctx, task, idx, 0, false, false)
}

func (b *Backend) readCell(ctx context.Context, task TaskId, idx CellIndex, reader TaskId, stronglyConsistent, track bool) (ValueHandle, error) {
	t, ok := b.lookupTask(task)
	if !ok {
		return ValueHandle{}, ErrTaskNotFound
	}

	if stronglyConsistent {
		if err := b.awaitStronglyConsistent(ctx, t); err != nil {
			return ValueHandle{}, err
		}
	}

	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	if int(idx) >= len(t.cells) {
		return ValueHandle{}, ErrEmptyOutput
	}
	if track {
		return t.cells[idx].Read(reader)
	}
	return t.cells[idx].readUntracked()
}

// awaitStronglyConsistent implements spec §4.7: promote to Root if needed
// (looping release/reacquire across the attempt, since promotion may
// itself submit jobs), wait for the foreground barrier to drain, then wait
// for the Root scope's unfinished_tasks to reach zero.
func (b *Backend) awaitStronglyConsistent(ctx context.Context, t *Task) error {
	if t.Kind() == BodyOnce {
		return ErrStrongConsistencyUnsupported
	}

	for {
		t.stateMu.RLock()
		isRoot := t.scopes.isRoot()
		t.stateMu.RUnlock()
		if isRoot {
			break
		}
		b.promoteToRoot(t)
		// promoteToRoot is idempotent; loop re-checks rather than trusting
		// its return value, since a concurrent caller may have promoted
		// t first.
	}

	for {
		done, listener := b.executor.TryForegroundDone()
		if done {
			break
		}
		select {
		case <-listener:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	t.stateMu.RLock()
	root := t.scopes.root
	t.stateMu.RUnlock()

	s, ok := b.lookupScope(root)
	if !ok {
		return nil
	}

	for s.UnfinishedTasks() > 0 {
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
