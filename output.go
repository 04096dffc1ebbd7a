package turbotask

import "github.com/jky0ung/turbotask/internal/idset"

// OutputContentKind tags the three states an Output or Cell content can be
// in: unset, linked to another value, or carrying a user
// error.
type OutputContentKind uint8

const (
	ContentEmpty OutputContentKind = iota
	ContentLink
	ContentError
)

// OutputContent is the tagged value stored in an Output or Cell.
type OutputContent struct {
	Kind   OutputContentKind
	Target ValueHandle
	Err    *SharedError
}

func (c OutputContent) String() string {
	switch c.Kind {
	case ContentEmpty:
		return "empty"
	case ContentLink:
		return "link " + c.Target.Kind.String()
	case ContentError:
		return "error " + c.Err.Error()
	default:
		return "unknown"
	}
}

// notifyFunc dispatches schedule_notify_tasks_set to the given dependents.
// It is supplied by the Backend so Output/Cell themselves stay free of any
// dependency on the Executor contract.
type notifyFunc func(*idset.Set[TaskId])

// slot holds the content + back-edge set shared by Output and Cell. It is
// not safe for concurrent use on its own: callers hold the owning task's
// state write lock, per spec §5 ("No lock is held across a task body
// execution. The write lock is taken at state transition points").
type slot struct {
	content    OutputContent
	updates    uint32
	dependents *idset.Set[TaskId]
}

func newSlot() slot {
	return slot{dependents: idset.New[TaskId]()}
}

// read registers reader as a dependent (forming the back-edge) and
// returns the current content mapped to a result, per spec §4.3.
func (s *slot) read(reader TaskId) (ValueHandle, error) {
	s.dependents.Add(reader)
	return s.readUntracked()
}

// readUntracked returns the current content without registering reader
// as a dependent, used for reads that must not form a back-edge (a Once
// task's reads).
func (s *slot) readUntracked() (ValueHandle, error) {
	switch s.content.Kind {
	case ContentEmpty:
		return ValueHandle{}, ErrEmptyOutput
	case ContentError:
		return ValueHandle{}, s.content.Err
	default:
		return s.content.Target, nil
	}
}

// link replaces the content with a Link to target unless it is already
// linked to the identical target (kind and id both matching), in which
// case it is a deliberate no-op that suppresses spurious invalidation
// storms. The target-kind comparison
// (TaskOutput vs TaskCell, and cell index) is carried over from the
// original's OutputContent::link, which treats two different cell
// indices of the same task as a real change.
func (s *slot) link(target ValueHandle, notify notifyFunc) {
	if s.content.Kind == ContentLink && s.content.Target == target {
		return
	}
	s.assign(OutputContent{Kind: ContentLink, Target: target}, notify)
}

// setError replaces the content with an error. Unlike link, this always
// replaces: two distinct failures of the same body are still each a
// change worth notifying dependents about.
func (s *slot) setError(err error, notify notifyFunc) {
	s.assign(OutputContent{Kind: ContentError, Err: NewSharedError(err)}, notify)
}

func (s *slot) assign(content OutputContent, notify notifyFunc) {
	s.content = content
	s.updates++
	if s.dependents.Len() > 0 && notify != nil {
		notify(s.dependents)
	}
}

// Output is a task's primary result slot: empty, linked to a ValueHandle,
// or an error, plus the set of tasks that have read it.
type Output struct {
	slot
}

// NewOutput returns an empty Output.
func NewOutput() *Output {
	return &Output{slot: newSlot()}
}

// Read registers reader as a dependent and returns the current content.
func (o *Output) Read(reader TaskId) (ValueHandle, error) {
	return o.read(reader)
}

// Link assigns target as this output's value, no-op if already linked to
// an identical target.
func (o *Output) Link(target ValueHandle, notify notifyFunc) {
	o.link(target, notify)
}

// Error assigns err as this output's content.
func (o *Output) Error(err error, notify notifyFunc) {
	o.setError(err, notify)
}

// Updates returns how many times this output's content has been replaced.
func (o *Output) Updates() uint32 {
	return o.updates
}

// Content returns the current content without registering a back-edge.
func (o *Output) Content() OutputContent {
	return o.content
}

// Cell is one side-channel value a task has produced. It mirrors the
// Output contract exactly (spec §4.3: "Cell mirrors this contract for
// side outputs").
type Cell struct {
	slot
}

// NewCell returns an empty Cell.
func NewCell() *Cell {
	return &Cell{slot: newSlot()}
}

// Read registers reader as a dependent and returns the current content.
func (c *Cell) Read(reader TaskId) (ValueHandle, error) {
	return c.read(reader)
}

// Link assigns target as this cell's value.
func (c *Cell) Link(target ValueHandle, notify notifyFunc) {
	c.link(target, notify)
}

// Error assigns err as this cell's content.
func (c *Cell) Error(err error, notify notifyFunc) {
	c.setError(err, notify)
}

// Updates returns how many times this cell's content has been replaced.
func (c *Cell) Updates() uint32 {
	return c.updates
}
