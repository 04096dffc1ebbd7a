package turbotask

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrEmptyOutput is returned when a reader observes an Output or Cell
// before any execution has produced a value for it.
var ErrEmptyOutput = errors.New("turbotask: output is empty")

// ErrScopeDisposed marks operations attempted against a scope that no
// longer exists in the backend (never produced in normal operation, since
// scopes are never destroyed within the lifetime of a process per spec
// §3, but kept for defensive lookups against a stale ScopeId).
var ErrScopeDisposed = errors.New("turbotask: scope not found")

// ErrStrongConsistencyUnsupported is returned by ReadOutput when
// strongly_consistent is requested against a Once-bodied task. Spec §9(b)
// leaves strong consistency for Once tasks unspecified; this engine
// refuses rather than guessing, since a Once task's root scope is
// stripped after its single observation and promoting it again would be
// meaningless.
var ErrStrongConsistencyUnsupported = errors.New("turbotask: strongly consistent reads are not supported for Once tasks")

// SharedError wraps a user error from a task body so it can be stored once
// in an Output or Cell and handed out by reference to every dependent that
// reads it, per the design notes on resource sharing.
type SharedError struct {
	cause error
}

// NewSharedError wraps err for sharing across dependents.
func NewSharedError(err error) *SharedError {
	return &SharedError{cause: err}
}

func (e *SharedError) Error() string {
	return e.cause.Error()
}

func (e *SharedError) Unwrap() error {
	return e.cause
}

// InvariantViolationError marks an impossible state-machine transition:
// a programming error in a caller of the engine, not a recoverable
// condition. Spec §7 classifies these as fail-stop.
type InvariantViolationError struct {
	Task       TaskId
	Operation  string
	Detail     string
	StackTrace []byte
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("turbotask: invariant violation in task %d during %s: %s", e.Task, e.Operation, e.Detail)
}

// invariantViolation logs the violation (if a logger is attached) and
// panics, matching spec §7's "Invariant violation ... fail-stop" policy
// and Open Question (a)'s decision to panic rather than coerce state.
func (b *Backend) invariantViolation(task TaskId, operation, detail string) {
	err := &InvariantViolationError{
		Task:       task,
		Operation:  operation,
		Detail:     detail,
		StackTrace: debug.Stack(),
	}
	b.logger().InvariantViolation(task, operation, detail)
	panic(err)
}

// ResolveError wraps an error surfaced while resolving a dependency, with
// enough context to find where in the graph it happened.
type ResolveError struct {
	Task    TaskId
	Target  ValueHandle
	Cause   error
	Context string
}

func (e *ResolveError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("turbotask: task %d failed to resolve %v during %s: %v", e.Task, e.Target, e.Context, e.Cause)
	}
	return fmt.Sprintf("turbotask: task %d failed to resolve %v: %v", e.Task, e.Target, e.Cause)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}
