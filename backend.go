package turbotask

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jky0ung/turbotask/internal/idset"
	"golang.org/x/sync/semaphore"
)

// rootPromotionThreshold is the Inner-bag size that triggers MakeRootScoped.
const rootPromotionThreshold = 100

// Backend is the lookup table {TaskId -> Task, ScopeId -> Scope} plus the
// cross-entity locking helpers and job submission the rest of the engine is
// built on. It is the sole owner of both maps; Task/Scope back-edges never
// hold pointers to each other directly, only ids, which dissolves the
// cyclic-ownership problem spec §9 calls out.
type Backend struct {
	tasksMu sync.RWMutex
	tasks   map[TaskId]*Task
	taskIds idAllocator

	scopesMu sync.RWMutex
	scopes   map[ScopeId]*Scope
	scopeIds idAllocator

	registryMu sync.Mutex
	registry   map[string]TaskId

	executor Executor
	log      TransitionLogger

	traversalSem *semaphore.Weighted
}

// BackendOption configures a Backend at construction, mirroring the
// teacher's functional-options style (scope.go's ScopeOption).
type BackendOption func(*Backend)

// WithLogger attaches a TransitionLogger. Default is SilentLogger{}.
func WithLogger(logger TransitionLogger) BackendOption {
	return func(b *Backend) { b.log = logger }
}

// WithMaxConcurrentTraversalJobs caps how many split traversal jobs
// may be in flight at once. Default 8.
func WithMaxConcurrentTraversalJobs(n int64) BackendOption {
	return func(b *Backend) { b.traversalSem = semaphore.NewWeighted(n) }
}

// NewBackend constructs a Backend driven by executor.
func NewBackend(executor Executor, opts ...BackendOption) *Backend {
	b := &Backend{
		tasks:    make(map[TaskId]*Task),
		scopes:   make(map[ScopeId]*Scope),
		registry: make(map[string]TaskId),
		executor: executor,
		log:      SilentLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.traversalSem == nil {
		b.traversalSem = semaphore.NewWeighted(8)
	}
	return b
}

func (b *Backend) logger() TransitionLogger { return b.log }

// notifier adapts the executor's schedule_notify_tasks_set capability to
// the notifyFunc shape Output/Cell expect.
func (b *Backend) notifier() notifyFunc {
	return func(set *idset.Set[TaskId]) {
		b.executor.ScheduleNotifyTasksSet(set)
	}
}

func (b *Backend) lookupTask(id TaskId) (*Task, bool) {
	b.tasksMu.RLock()
	defer b.tasksMu.RUnlock()
	t, ok := b.tasks[id]
	return t, ok
}

// Task returns the Task object for id, so a host can inspect its state,
// stats or output without reaching into Backend internals. The second
// return value is false if id is unknown.
func (b *Backend) Task(id TaskId) (*Task, bool) {
	return b.lookupTask(id)
}

func (b *Backend) lookupScope(id ScopeId) (*Scope, bool) {
	b.scopesMu.RLock()
	defer b.scopesMu.RUnlock()
	s, ok := b.scopes[id]
	return s, ok
}

func (b *Backend) newScope() *Scope {
	id := ScopeId(b.scopeIds.alloc())
	s := newScope(id)
	b.scopesMu.Lock()
	b.scopes[id] = s
	b.scopesMu.Unlock()
	return s
}

func (b *Backend) insertTask(body Body, inputs []any) *Task {
	id := TaskId(b.taskIds.alloc())
	t := newTask(id, inputs, body)
	t.backend = b
	b.tasksMu.Lock()
	b.tasks[id] = t
	b.tasksMu.Unlock()
	return t
}

// CreateRootTask creates a Root-bodied task with its own dedicated root
// scope, per the lifecycle rule that a scope is "created either initially
// around a Root/Once task, or promoted from Inner" (spec §3 "Lifecycles").
// Root tasks run repeatedly and track dependencies.
func (b *Backend) CreateRootTask(run TaskFn) TaskId {
	return b.createScopedTask(Body{Kind: BodyRoot, Run: run})
}

// CreateOnceTask creates a Once-bodied task: it executes at most once and
// does not track dependencies.
func (b *Backend) CreateOnceTask(run TaskFn) TaskId {
	return b.createScopedTask(Body{Kind: BodyOnce, Run: run})
}

func (b *Backend) createScopedTask(body Body) TaskId {
	t := b.insertTask(body, nil)
	s := b.newScope()

	t.stateMu.Lock()
	t.scopes = newRootMembership(s.Id())
	t.stateMu.Unlock()

	s.incrementTasks()
	s.incrementUnfinished()

	// Root/Once tasks start life Scheduled (spec §3 "Lifecycles"): nothing
	// else can memoize or activate them into running, so the engine must
	// kick off their first execution itself rather than waiting for a
	// scope activation that may never come.
	b.executor.Schedule(t.id)

	return t.id
}

// LookupOrCreate resolves the Native memoization cache key (FnId, inputs)
// to a TaskId, creating the task (with empty Inner scope membership, per
// invariant 1) on first lookup. run is only used the first time; later
// lookups return the cached task regardless of run (spec §2 dataflow,
// §10.1 [DOMAIN]).
func (b *Backend) LookupOrCreate(fnID FunctionId, inputs []any, kind BodyKind, run TaskFn) TaskId {
	key := registryKey(fnID, inputs)

	b.registryMu.Lock()
	defer b.registryMu.Unlock()

	if id, ok := b.registry[key]; ok {
		return id
	}

	t := b.insertTask(Body{Kind: kind, FnID: fnID, Run: run}, inputs)
	b.registry[key] = t.id
	return t.id
}

// ConnectChild adds child to parent.children (idempotent, spec §6); on
// first insertion it propagates each of parent's containing scopes to
// child, exactly matching the "Scope engine: Adding to a scope" fan-out
// but starting from a single already-known parent scope set rather than a
// traversal frame.
func (b *Backend) ConnectChild(parent, child TaskId) {
	p, ok := b.lookupTask(parent)
	if !ok {
		return
	}
	if !p.connectChildLocal(child) {
		return
	}

	scopes := p.scopesSnapshot()
	scopes.each(func(sid ScopeId, _ int) {
		b.AddTaskToScope(child, sid)
	})
}

// Invalidate implements spec §6's invalidate(Invalidator): it resolves the
// token's task and marks it dirty per §4.1.
func (b *Backend) Invalidate(inv Invalidator) {
	b.InvalidateTask(inv.task)
}

// InvalidateTask marks task dirty per §4.1 directly by id, used by
// ScheduleNotifyTasksSet callers
// that have a TaskId rather than an Invalidator token.
func (b *Backend) InvalidateTask(task TaskId) {
	t, ok := b.lookupTask(task)
	if !ok {
		return
	}
	t.invalidate(b)
}

// dropBackEdge removes task from the dependent set of whichever Output or
// Cell h references. Only ever called after the caller has released its
// own task's stateMu (spec §5 lock order: never hold one task's lock while
// acquiring another's).
func (b *Backend) dropBackEdge(h ValueHandle, task TaskId) {
	owner, ok := b.lookupTask(h.TaskId())
	if !ok {
		return
	}
	owner.stateMu.Lock()
	defer owner.stateMu.Unlock()

	switch h.Kind {
	case HandleTaskOutput:
		owner.output.dependents.Remove(task)
	case HandleTaskCell:
		if int(h.Cell) < len(owner.cells) {
			owner.cells[h.Cell].dependents.Remove(task)
		}
	}
}

// scheduleRemoveChildrenFromScopes enqueues a background job removing
// children from every scope in scopes, per execution_started's "spawn a
// background job to remove those children". willBeOptimized is
// forwarded to the traversal runner.
func (b *Backend) scheduleRemoveChildrenFromScopes(children *idset.Set[TaskId], scopes scopeMembership, willBeOptimized bool) {
	var ids []ScopeId
	scopes.each(func(sid ScopeId, _ int) {
		ids = append(ids, sid)
	})
	if len(ids) == 0 {
		return
	}
	b.executor.ScheduleBackendBackgroundJob(Job{
		Kind:            JobRemoveFromScopes,
		Scopes:          ids,
		Children:        children,
		WillBeOptimized: willBeOptimized,
	})
}

// RunJob executes one Job synchronously. It is the single dispatch point a
// host Executor implementation calls from its worker loop after popping a
// job off its own queue; the engine itself never runs a Job inline except
// via the bounded traversal helpers in queue.go, which submit further Jobs
// rather than recursing.
func (b *Backend) RunJob(job Job) {
	switch job.Kind {
	case JobRemoveFromScope:
		b.removeChildrenFromScope(job.Children, job.Scope, false)
	case JobRemoveFromScopes:
		for _, sid := range job.Scopes {
			b.removeChildrenFromScope(job.Children, sid, job.WillBeOptimized)
		}
	case JobMakeRootScoped:
		b.makeRootScoped(job.Task)
	case JobRemoveRootScope:
		b.removeRootScope(job.Task)
	case JobAddToScopeQueue:
		b.runAddQueue(job.Frames, job.QueueScope)
		b.releaseTraversalSlot()
	case JobRemoveFromScopeQueue:
		b.runRemoveQueue(job.Frames, job.QueueScope)
		b.releaseTraversalSlot()
	}
}

// removeRootScope strips a Once task's dedicated root scope after its
// single observation (spec §4.2 step 3). The scope object itself is never
// destroyed; only its bookkeeping counters are retired. The task's own
// membership is reset to an empty Inner bag, mirroring the original's
// state.scopes = TaskScopes::default(), so a later AddTaskToScope does not
// wrongly take the Root branch into a scope the task no longer belongs
// to. Any children the task connected are handed a background job to
// detach them from the stripped scope instead of being left as a
// permanent, uncounted membership leak.
func (b *Backend) removeRootScope(task TaskId) {
	t, ok := b.lookupTask(task)
	if !ok {
		return
	}
	t.stateMu.Lock()
	membership := t.scopes
	done := t.stateType == StateDone
	children := t.children.Slice()
	if membership.isRoot() {
		t.scopes = newInnerMembership()
	}
	t.stateMu.Unlock()

	if !membership.isRoot() {
		return
	}
	s, ok := b.lookupScope(membership.root)
	if !ok {
		return
	}
	s.decrementTasks()
	if !done {
		s.decrementUnfinished()
	}

	if len(children) > 0 {
		b.executor.ScheduleBackendBackgroundJob(Job{
			Kind:     JobRemoveFromScope,
			Scope:    membership.root,
			Children: idset.FromSlice(children),
		})
	}
}

// registryKey builds the Native memoization cache key from (FnId, inputs)
// by value, not pointer identity, per spec §3's "inputs ... used for
// cache-key equality". No library in the retrieval pack offers stable
// hashing over heterogeneous argument vectors, so this falls back to
// fmt's %v formatting, documented in DESIGN.md.
func registryKey(fnID FunctionId, inputs []any) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", fnID)
	for _, in := range inputs {
		sb.WriteByte('|')
		fmt.Fprintf(&sb, "%v", in)
	}
	return sb.String()
}
