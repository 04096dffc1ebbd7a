package turbotask

import (
	"context"
	"sync"
	"time"

	"github.com/jky0ung/turbotask/internal/idset"
)

// ExecCtx is the execution-local context passed to a running TaskFn. It is
// the "execution-local tracker for value handles read during this
// execution" spec §9 calls out as a process-wide-but-scoped singleton —
// here modeled as a plain value rather than a global, since Go gives each
// goroutine its own call stack to thread it through.
type ExecCtx struct {
	ctx     context.Context
	backend *Backend
	task    *Task

	mu           sync.Mutex
	deps         *idset.Set[ValueHandle]
	cellMappings map[any]CellIndex
}

func newExecCtx(ctx context.Context, b *Backend, t *Task) *ExecCtx {
	return &ExecCtx{
		ctx:          ctx,
		backend:      b,
		task:         t,
		deps:         idset.New[ValueHandle](),
		cellMappings: make(map[any]CellIndex),
	}
}

// Context returns the cancellation context the host executor supplied for
// this execution.
func (c *ExecCtx) Context() context.Context { return c.ctx }

// TaskID returns the id of the task currently executing. Useful for a body
// that wants to link its own Output to itself (a terminal value with no
// further dependency, since cell content storage is an external
// collaborator per spec §1) or to correlate its own GetInvalidator tokens.
func (c *ExecCtx) TaskID() TaskId { return c.task.id }

// ReadOutput reads another task's primary Output, registering task as a
// dependency of the currently running task (spec §4.2 "during execution
// the task body reads other tasks' outputs/cells, which registers
// dependencies in a task-local set"). A Once body is exempt: spec §3 says
// Once "does not track dependencies", so neither the task-local dep set
// nor the target's back-edge set is touched, and a later invalidation of
// the target can never reach back into this (un-re-runnable) task.
func (c *ExecCtx) ReadOutput(task TaskId) (ValueHandle, error) {
	if c.task.body.Kind == BodyOnce {
		return c.backend.readOutputUntracked(c.ctx, task)
	}
	h, err := c.backend.ReadOutput(c.ctx, task, c.task.id, false)
	c.trackDependency(TaskOutput(task))
	return h, err
}

// ReadCell reads one of another task's Cells, with the same dependency
// tracking (and the same Once exemption) as ReadOutput.
func (c *ExecCtx) ReadCell(task TaskId, idx CellIndex) (ValueHandle, error) {
	if c.task.body.Kind == BodyOnce {
		return c.backend.readCellUntracked(c.ctx, task, idx)
	}
	h, err := c.backend.ReadCell(c.ctx, task, idx, c.task.id, false)
	c.trackDependency(TaskCell(task, idx))
	return h, err
}

func (c *ExecCtx) trackDependency(h ValueHandle) {
	c.mu.Lock()
	c.deps.Add(h)
	c.mu.Unlock()
}

// ConnectChild records child as a task this execution connected, per
// spec §6's connect_child.
func (c *ExecCtx) ConnectChild(child TaskId) {
	c.backend.ConnectChild(c.task.id, child)
}

// GetInvalidator returns a token bound to the currently running task that,
// fired later, invalidates it.
func (c *ExecCtx) GetInvalidator() Invalidator {
	return c.backend.newInvalidator(c.task.id)
}

// SetCell writes value into the Cell keyed by key, reusing the cell index
// from the task's previous execution if key maps to one there (spec §3
// "cell_mappings: deterministic mapping from data-type or user key to
// reusable cell index, so re-executions place new values into the same
// cells").
func (c *ExecCtx) SetCell(key any, value ValueHandle) CellIndex {
	c.task.stateMu.Lock()
	defer c.task.stateMu.Unlock()

	idx := c.lookupOrAllocCellLocked(key)
	c.task.cells[idx].Link(value, c.backend.notifier())
	return idx
}

// SetCellError writes err into the Cell keyed by key.
func (c *ExecCtx) SetCellError(key any, err error) CellIndex {
	c.task.stateMu.Lock()
	defer c.task.stateMu.Unlock()

	idx := c.lookupOrAllocCellLocked(key)
	c.task.cells[idx].Error(err, c.backend.notifier())
	return idx
}

// lookupOrAllocCellLocked must be called with c.task.stateMu held for
// write.
func (c *ExecCtx) lookupOrAllocCellLocked(key any) CellIndex {
	c.mu.Lock()
	if idx, ok := c.cellMappings[key]; ok {
		c.mu.Unlock()
		return idx
	}
	c.mu.Unlock()

	if idx, ok := c.task.cellMappings[key]; ok {
		c.mu.Lock()
		c.cellMappings[key] = idx
		c.mu.Unlock()
		return idx
	}

	idx := CellIndex(len(c.task.cells))
	c.task.cells = append(c.task.cells, NewCell())

	c.mu.Lock()
	c.cellMappings[key] = idx
	c.mu.Unlock()
	return idx
}

// Execute runs one Scheduled task to completion and commits the result; it
// is the function a host Executor's worker loop calls in response to
// Schedule(task). It returns false if the task was not actually runnable
// (not Scheduled).
func (b *Backend) Execute(ctx context.Context, task TaskId) bool {
	t, ok := b.lookupTask(task)
	if !ok {
		return false
	}
	if !t.executionStarted(b) {
		return false
	}

	execCtx := newExecCtx(ctx, b, t)
	start := time.Now()
	handle, err := t.body.Run(execCtx)
	duration := time.Since(start)

	t.executionResult(b, ExecutionOutcome{Handle: handle, Err: err})

	execCtx.mu.Lock()
	deps := execCtx.deps
	cellMappings := execCtx.cellMappings
	execCtx.mu.Unlock()

	t.executionCompleted(b, deps, cellMappings, duration)
	return true
}
