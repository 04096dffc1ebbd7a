package turbotask

import (
	"sync"
	"time"

	"github.com/jky0ung/turbotask/internal/idset"
)

// TaskState is one of the five states a Task moves through.
type TaskState uint8

const (
	StateDirty TaskState = iota
	StateScheduled
	StateInProgress
	StateInProgressDirty
	StateDone
)

func (s TaskState) String() string {
	switch s {
	case StateDirty:
		return "dirty"
	case StateScheduled:
		return "scheduled"
	case StateInProgress:
		return "in_progress"
	case StateInProgressDirty:
		return "in_progress_dirty"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// BodyKind tags the variant of a Task's body.
type BodyKind uint8

const (
	BodyRoot BodyKind = iota
	BodyOnce
	BodyNative
	BodyResolveNative
	BodyResolveTrait
)

func (k BodyKind) String() string {
	switch k {
	case BodyRoot:
		return "root"
	case BodyOnce:
		return "once"
	case BodyNative:
		return "native"
	case BodyResolveNative:
		return "resolve_native"
	case BodyResolveTrait:
		return "resolve_trait"
	default:
		return "unknown"
	}
}

// cached reports whether this body kind is memoized by cache key and
// therefore starts life Dirty rather than Scheduled (Root/Once tasks
// start Scheduled instead, since nothing can memoize them).
func (k BodyKind) cached() bool {
	return k == BodyNative || k == BodyResolveNative || k == BodyResolveTrait
}

// TaskFn is a task body. Argument resolution and trait dispatch are
// external collaborators; by the time a TaskFn runs, its Body's
// FnID/Method have already been used by the caller to pick the concrete
// function — the engine only needs the result.
type TaskFn func(ctx *ExecCtx) (ValueHandle, error)

// Body is the immutable description of what a Task runs.
type Body struct {
	Kind   BodyKind
	FnID   FunctionId // meaningful for Native, ResolveNative, ResolveTrait
	Method string     // meaningful for ResolveTrait
	Run    TaskFn
}

type membershipKind uint8

const (
	membershipRoot membershipKind = iota
	membershipInner
)

// scopeMembership implements invariant 1: a task is in exactly
// one of Root(s) or Inner(bag).
type scopeMembership struct {
	kind  membershipKind
	root  ScopeId
	inner map[ScopeId]int // counted multiset
}

func newInnerMembership() scopeMembership {
	return scopeMembership{kind: membershipInner, inner: make(map[ScopeId]int)}
}

func newRootMembership(s ScopeId) scopeMembership {
	return scopeMembership{kind: membershipRoot, root: s}
}

// isRoot reports whether this membership is Root(s), for any scope s.
func (m scopeMembership) isRoot() bool {
	return m.kind == membershipRoot
}

// each calls fn once per (scope, count) pair this task belongs to.
func (m scopeMembership) each(fn func(ScopeId, int)) {
	switch m.kind {
	case membershipRoot:
		fn(m.root, 1)
	case membershipInner:
		for s, c := range m.inner {
			fn(s, c)
		}
	}
}

// eventNotifier is a re-armable one-shot broadcaster: Fire wakes every
// current waiter and immediately arms a fresh generation so a later Wait
// (after the task goes Dirty again) blocks for the *next* completion
// rather than replaying a stale signal.
type eventNotifier struct {
	mu sync.Mutex
	ch chan struct{}
}

func newEventNotifier() *eventNotifier {
	return &eventNotifier{ch: make(chan struct{})}
}

func (e *eventNotifier) current() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

func (e *eventNotifier) fire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	close(e.ch)
	e.ch = make(chan struct{})
}

// Task is the incremental unit: a memoized computation keyed by
// (FunctionId, inputs) that owns a body, state, dependency/children sets,
// output, cells and scope membership.
type Task struct {
	id     TaskId
	inputs []any
	body   Body

	backend *Backend

	// Mutable part, guarded by stateMu.
	stateMu       sync.RWMutex
	scopes        scopeMembership
	stateType     TaskState
	children      *idset.Set[TaskId]
	output        *Output
	cells         []*Cell
	cellMappings  map[any]CellIndex
	done          *eventNotifier
	executions    uint32
	totalDuration time.Duration
	optimizing    bool // guards against re-triggering MakeRootScoped

	// Execution-only part, guarded by execMu, never held across
	// suspension.
	execMu       sync.Mutex
	dependencies *idset.Set[ValueHandle]
}

func newTask(id TaskId, inputs []any, body Body) *Task {
	initial := StateScheduled
	if body.Kind.cached() {
		initial = StateDirty
	}
	return &Task{
		id:           id,
		inputs:       inputs,
		body:         body,
		scopes:       newInnerMembership(),
		stateType:    initial,
		children:     idset.New[TaskId](),
		output:       NewOutput(),
		cellMappings: make(map[any]CellIndex),
		done:         newEventNotifier(),
		dependencies: idset.New[ValueHandle](),
	}
}

// Id returns the task's identity.
func (t *Task) Id() TaskId { return t.id }

// Inputs returns the immutable argument vector used for cache-key
// equality.
func (t *Task) Inputs() []any { return t.inputs }

// Kind returns the task's body kind.
func (t *Task) Kind() BodyKind { return t.body.Kind }

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.stateType
}

// Stats returns the execution counter and cumulative execution duration.
func (t *Task) Stats() (executions uint32, total time.Duration) {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.executions, t.totalDuration
}

// Output returns the task's primary output slot.
func (t *Task) Output() *Output { return t.output }

// anyContainingScopeActive reports whether any scope this task belongs to
// (directly, not transitively through parent scopes) is active. Must be
// called with stateMu held (read or write) and the relevant scope mutexes
// acquired per entry.
func (t *Task) anyContainingScopeActive(b *Backend) bool {
	active := false
	t.scopes.each(func(sid ScopeId, _ int) {
		if active {
			return
		}
		if s, ok := b.lookupScope(sid); ok {
			if s.isActive() {
				active = true
			}
		}
	})
	return active
}

// invalidate applies an invalidation to the task's current state. The
// caller (Backend.Invalidate) has already resolved the Invalidator token
// to this specific task before calling in.
func (t *Task) invalidate(b *Backend) {
	// Scheduling happens after stateMu is released (deferred calls run in
	// reverse order): an executor may run the task inline from Schedule.
	schedule := false
	defer func() {
		if schedule {
			b.executor.Schedule(t.id)
		}
	}()
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.body.Kind == BodyOnce {
		// Once tasks cannot become dirty (spec §5): they run at most once
		// and never re-enter the Dirty/Scheduled states an Invalidator
		// would otherwise push them into.
		return
	}

	switch t.stateType {
	case StateDirty, StateScheduled, StateInProgressDirty:
		// no-op at the state level; already dirty-or-will-be.
		return
	case StateInProgress:
		t.stateType = StateInProgressDirty
		b.logger().Transition(t.id, "invalidate", StateInProgress, StateInProgressDirty)
	case StateDone:
		schedule = t.transitionFromDoneLocked(b, "invalidate")
	}
}

// transitionFromDoneLocked moves a Done task to Scheduled (if any
// containing scope is active) or Dirty (registering it in each inactive
// containing scope's dirty_tasks). Caller holds stateMu for write. It
// returns true when the task moved to Scheduled; the caller then calls
// executor.Schedule after releasing stateMu.
func (t *Task) transitionFromDoneLocked(b *Backend, reason string) bool {
	if t.body.Kind == BodyOnce {
		// Once tasks cannot become dirty (spec §5); guard here too since
		// this is the one place that would otherwise flip a Done Once task
		// back to Scheduled/Dirty, regardless of caller.
		return false
	}

	from := t.stateType

	// The task is leaving Done, undoing the decrementUnfinished each
	// containing scope recorded in executionCompleted; every scope it
	// belongs to again has one more not-yet-finished member.
	t.scopes.each(func(sid ScopeId, _ int) {
		if s, ok := b.lookupScope(sid); ok {
			s.incrementUnfinished()
		}
	})

	if t.anyContainingScopeActive(b) {
		t.stateType = StateScheduled
		b.logger().Transition(t.id, reason, from, StateScheduled)
		return true
	}

	t.stateType = StateDirty
	b.logger().Transition(t.id, reason, from, StateDirty)
	t.scopes.each(func(sid ScopeId, _ int) {
		if s, ok := b.lookupScope(sid); ok {
			s.markDirty(t.id)
		}
	})
	return false
}

// executionStarted marks the task InProgress so its body can run.
//
// Returns false (the caller must not run the body) for any state other
// than Scheduled, except Dirty: a Dirty task never legitimately reaches
// start-exec (the executor always transitions Dirty->Scheduled via
// activate/invalidate-while-active first), so that specific case is
// treated as an invariant violation and panics.
func (t *Task) executionStarted(b *Backend) bool {
	t.stateMu.Lock()

	if t.stateType == StateDirty {
		t.stateMu.Unlock()
		b.invariantViolation(t.id, "execution_started", "task was Dirty, expected Scheduled")
		return false // unreachable, invariantViolation panics
	}

	if t.stateType != StateScheduled {
		t.stateMu.Unlock()
		return false
	}

	t.stateType = StateInProgress
	t.executions++
	b.logger().Transition(t.id, "start-exec", StateScheduled, StateInProgress)

	oldChildren := t.children
	t.children = idset.New[TaskId]()
	scopesSnapshot := t.scopes
	t.stateMu.Unlock()

	if oldChildren.Len() > 0 {
		b.scheduleRemoveChildrenFromScopes(oldChildren, scopesSnapshot, false)
	}

	return true
}

// ExecutionOutcome is the Ok/Err result a task body produces, passed to
// executionResult.
type ExecutionOutcome struct {
	Handle ValueHandle
	Err    error
}

// executionResult records a task body's outcome. Only meaningful in
// InProgress; silently dropped in InProgressDirty; any other state is an
// invariant violation.
func (t *Task) executionResult(b *Backend, outcome ExecutionOutcome) {
	// Dependents are notified only after stateMu is released (deferred
	// calls run in reverse order): notifying invalidates them, which takes
	// their own locks, and a dependent re-run inline reads this output.
	var pending *idset.Set[TaskId]
	defer func() {
		if pending != nil {
			b.notifier()(pending)
		}
	}()
	capture := func(set *idset.Set[TaskId]) { pending = set.Clone() }

	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	switch t.stateType {
	case StateInProgress:
		if outcome.Err != nil {
			t.output.Error(outcome.Err, capture)
		} else {
			t.output.Link(outcome.Handle, capture)
		}
	case StateInProgressDirty:
		// Discarded: the execution observed a snapshot that is already
		// known stale.
	default:
		b.invariantViolation(t.id, "execution_result", "task was "+t.stateType.String()+", expected InProgress or InProgressDirty")
	}
}

// executionCompleted installs the execution-local dependency set
// (replacing, never merging, the previous one) and cellMappings, and
// performs the InProgress->Done or InProgressDirty->{Dirty,Scheduled}
// transition. Returns whether the task was (re)scheduled.
func (t *Task) executionCompleted(b *Backend, newDeps *idset.Set[ValueHandle], newCellMappings map[any]CellIndex, duration time.Duration) bool {
	t.stateMu.Lock()

	t.totalDuration += duration

	t.execMu.Lock()
	oldDeps := t.dependencies
	t.execMu.Unlock()

	scheduled := false
	var staleDeps *idset.Set[ValueHandle]

	switch t.stateType {
	case StateInProgress:
		t.execMu.Lock()
		t.dependencies = newDeps
		t.execMu.Unlock()
		staleDeps = oldDeps

		t.cellMappings = newCellMappings
		t.stateType = StateDone
		b.logger().Transition(t.id, "finish-exec", StateInProgress, StateDone)
		t.scopes.each(func(sid ScopeId, _ int) {
			if s, ok := b.lookupScope(sid); ok {
				s.decrementUnfinished()
			}
		})
		t.done.fire()
	case StateInProgressDirty:
		// Discarded execution: the dependencies it tracked are stale by
		// construction, so the installed set is left untouched.
		if t.anyContainingScopeActive(b) {
			t.stateType = StateScheduled
			b.logger().Transition(t.id, "finish-exec", StateInProgressDirty, StateScheduled)
			scheduled = true
		} else {
			t.stateType = StateDirty
			b.logger().Transition(t.id, "finish-exec", StateInProgressDirty, StateDirty)
			t.scopes.each(func(sid ScopeId, _ int) {
				if s, ok := b.lookupScope(sid); ok {
					s.markDirty(t.id)
				}
			})
		}
	default:
		b.invariantViolation(t.id, "execution_completed", "task was "+t.stateType.String()+", expected InProgress or InProgressDirty")
	}

	onceBody := t.body.Kind == BodyOnce
	t.stateMu.Unlock()

	// Back-edge removal touches other tasks' locks; it must happen after
	// releasing this task's own lock (never hold a task lock while
	// acquiring another's).
	removeStaleBackEdges(staleDeps, newDeps, t.id, b)

	// Scheduled only now that stateMu is released, since an executor may
	// run the task inline from Schedule.
	if scheduled {
		b.executor.Schedule(t.id)
	}

	if onceBody {
		b.executor.ScheduleBackendBackgroundJob(Job{Kind: JobRemoveRootScope, Task: t.id})
	}

	return scheduled
}

// removeStaleBackEdges drops the back-edge from task on every dependency
// present in oldDeps but absent from newDeps, implementing the "fully
// replaced, never merged" half of quantified invariant 6 (the "newly
// installed" half is already handled incrementally by Output/Cell.Read
// at the moment each dependency was read during execution). oldDeps is
// nil when the execution was discarded (InProgressDirty), in which case
// there is nothing stale to remove.
func removeStaleBackEdges(oldDeps, newDeps *idset.Set[ValueHandle], task TaskId, b *Backend) {
	if oldDeps == nil {
		return
	}
	oldDeps.Each(func(h ValueHandle) bool {
		if newDeps.Contains(h) {
			return true
		}
		b.dropBackEdge(h, task)
		return true
	})
}

// onActivate implements the "activate" column for a single task: a Dirty
// task whose scope just became active is moved to Scheduled and handed to
// the executor once stateMu is released; any other state is unaffected.
// It does not touch any scope's dirty_tasks (increaseScopeActiveBy drains
// that set before calling in).
func (t *Task) onActivate(b *Backend) {
	t.stateMu.Lock()
	if t.stateType != StateDirty {
		t.stateMu.Unlock()
		return
	}
	t.stateType = StateScheduled
	b.logger().Transition(t.id, "activate", StateDirty, StateScheduled)
	t.stateMu.Unlock()
	b.executor.Schedule(t.id)
}

// connectChildLocal adds child to this task's children set, returning
// true if it was newly inserted (idempotent).
func (t *Task) connectChildLocal(child TaskId) bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.children.Add(child)
}

// childrenSnapshot returns a copy of the current children set.
func (t *Task) childrenSnapshot() *idset.Set[TaskId] {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.children.Clone()
}

// scopesSnapshot returns the current scope membership value (itself
// immutable-by-convention once read: callers must not mutate the returned
// inner map).
func (t *Task) scopesSnapshot() scopeMembership {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	return t.scopes
}
