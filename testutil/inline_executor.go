// Package testutil provides a synchronous, in-memory Executor for driving
// the engine's own test suite deterministically, modeled on the teacher's
// pattern of exercising Scope/Controller directly in executor_test.go
// without standing up a real thread pool.
package testutil

import (
	"context"
	"sync"

	turbotask "github.com/jky0ung/turbotask"
	"github.com/jky0ung/turbotask/internal/idset"
)

// InlineExecutor runs everything inline, on the calling goroutine, the
// moment it is asked to. Schedule immediately calls Backend.Execute;
// background/foreground jobs run immediately too, so TryForegroundDone is
// always instantly true. Safe for concurrent use from multiple goroutines
// in a stress test: scheduling serializes through a mutex, but nothing
// blocks waiting on it.
type InlineExecutor struct {
	mu      sync.Mutex
	backend *turbotask.Backend
	ctx     context.Context

	scheduled []turbotask.TaskId
}

// NewInlineExecutor returns an InlineExecutor. Call SetBackend once the
// Backend that owns it has been constructed (the two are circularly
// dependent: NewBackend needs an Executor, and the Executor needs the
// Backend to call Execute).
func NewInlineExecutor(ctx context.Context) *InlineExecutor {
	if ctx == nil {
		ctx = context.Background()
	}
	return &InlineExecutor{ctx: ctx}
}

// SetBackend wires the executor to the backend it drives.
func (e *InlineExecutor) SetBackend(b *turbotask.Backend) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.backend = b
}

func (e *InlineExecutor) Schedule(task turbotask.TaskId) {
	e.mu.Lock()
	b := e.backend
	e.scheduled = append(e.scheduled, task)
	e.mu.Unlock()

	if b != nil {
		b.Execute(e.ctx, task)
	}
}

func (e *InlineExecutor) ScheduleBackendBackgroundJob(job turbotask.Job) {
	e.mu.Lock()
	b := e.backend
	e.mu.Unlock()
	if b != nil {
		b.RunJob(job)
	}
}

func (e *InlineExecutor) ScheduleBackendForegroundJob(job turbotask.Job) {
	e.ScheduleBackendBackgroundJob(job)
}

func (e *InlineExecutor) TryForegroundDone() (bool, <-chan struct{}) {
	return true, nil
}

func (e *InlineExecutor) ScheduleNotifyTasksSet(set *idset.Set[turbotask.TaskId]) {
	if set == nil {
		return
	}
	set.Each(func(id turbotask.TaskId) bool {
		e.mu.Lock()
		b := e.backend
		e.mu.Unlock()
		if b != nil {
			b.InvalidateTask(id)
		}
		return true
	})
}

func (e *InlineExecutor) Pin() any { return e }

// Scheduled returns every TaskId ever passed to Schedule, in call order,
// for assertions like "executions counter for that task is 1".
func (e *InlineExecutor) Scheduled() []turbotask.TaskId {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]turbotask.TaskId, len(e.scheduled))
	copy(out, e.scheduled)
	return out
}
