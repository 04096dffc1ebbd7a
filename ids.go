package turbotask

import "sync/atomic"

// TaskId identifies a Task. Ids are opaque, dense and monotonically issued
// by a Backend; they are never reused.
type TaskId uint64

// ScopeId identifies a Scope, with the same allocation discipline as
// TaskId.
type ScopeId uint64

// CellIndex identifies one of a task's side-channel Cell outputs.
type CellIndex uint32

// FunctionId identifies a registered task-body function for Native
// memoization. Argument resolution and trait dispatch themselves are
// external collaborators; FunctionId is the only handle the
// engine needs to form a (FunctionId, inputs) cache key.
type FunctionId uint64

// ValueHandleKind distinguishes the two things a ValueHandle can point at.
type ValueHandleKind uint8

const (
	// HandleTaskOutput references a task's primary Output slot.
	HandleTaskOutput ValueHandleKind = iota
	// HandleTaskCell references one of a task's indexed Cell outputs.
	HandleTaskCell
)

func (k ValueHandleKind) String() string {
	switch k {
	case HandleTaskOutput:
		return "output"
	case HandleTaskCell:
		return "cell"
	default:
		return "unknown"
	}
}

// ValueHandle is an opaque reference identifying either the output slot of
// a task or one of its cells. It is comparable and safe to use as a map
// key, which is how dependency sets are implemented.
type ValueHandle struct {
	Kind ValueHandleKind
	Task TaskId
	Cell CellIndex // meaningful only when Kind == HandleTaskCell
}

// TaskOutput builds a ValueHandle referencing a task's primary output.
func TaskOutput(t TaskId) ValueHandle {
	return ValueHandle{Kind: HandleTaskOutput, Task: t}
}

// TaskCell builds a ValueHandle referencing one of a task's cells.
func TaskCell(t TaskId, idx CellIndex) ValueHandle {
	return ValueHandle{Kind: HandleTaskCell, Task: t, Cell: idx}
}

// TaskId returns the task this handle belongs to, regardless of kind.
func (h ValueHandle) TaskId() TaskId {
	return h.Task
}

// idAllocator issues dense, monotonically increasing uint64 ids starting
// at 0.
type idAllocator struct {
	next atomic.Uint64
}

func (a *idAllocator) alloc() uint64 {
	return a.next.Add(1) - 1
}
