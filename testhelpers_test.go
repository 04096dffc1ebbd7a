package turbotask

import (
	"sync"

	"github.com/jky0ung/turbotask/internal/idset"
)

// recordingExecutor is a minimal in-package Executor test double. It runs
// jobs and notifications inline (no real concurrency) and only records
// Schedule calls without running the task, so state-machine assertions can
// be made deterministically, and it is internal to the turbotask package
// so white-box tests can reach unexported Task/Scope fields directly
// (testutil.InlineExecutor plays the equivalent role for external,
// black-box tests, but importing it here would create an import cycle).
type recordingExecutor struct {
	mu        sync.Mutex
	backend   *Backend
	scheduled []TaskId
}

func (e *recordingExecutor) attach(b *Backend) { e.backend = b }

func (e *recordingExecutor) Schedule(task TaskId) {
	e.mu.Lock()
	e.scheduled = append(e.scheduled, task)
	e.mu.Unlock()
}

func (e *recordingExecutor) ScheduleBackendBackgroundJob(job Job) {
	if e.backend != nil {
		e.backend.RunJob(job)
	}
}

func (e *recordingExecutor) ScheduleBackendForegroundJob(job Job) {
	e.ScheduleBackendBackgroundJob(job)
}

func (e *recordingExecutor) TryForegroundDone() (bool, <-chan struct{}) {
	return true, nil
}

func (e *recordingExecutor) ScheduleNotifyTasksSet(set *idset.Set[TaskId]) {
	if set == nil || e.backend == nil {
		return
	}
	set.Each(func(id TaskId) bool {
		e.backend.InvalidateTask(id)
		return true
	})
}

func (e *recordingExecutor) Pin() any { return e }

func newTestBackend() (*Backend, *recordingExecutor) {
	exec := &recordingExecutor{}
	b := NewBackend(exec)
	exec.attach(b)
	return b, exec
}
