package turbotask

// queueSplitFrameThreshold and queueSplitPendingThreshold: shouldSplit
// reports true when the queue holds more than 4 frames and the total
// pending children exceed 100.
const queueSplitFrameThreshold = 4
const queueSplitPendingThreshold = 100

func (b *Backend) enqueueAddChildren(children []TaskId, scope ScopeId, willBeOptimized bool) {
	b.runAddQueue([]traversalFrame{{children: children, willBeOptimized: willBeOptimized}}, scope)
}

func (b *Backend) enqueueRemoveChildren(children []TaskId, scope ScopeId, willBeOptimized bool) {
	b.runRemoveQueue([]traversalFrame{{children: children, willBeOptimized: willBeOptimized}}, scope)
}

// runAddQueue drains frames in order, calling AddTaskToScope on each child.
// When the queue holds more than 4 frames and more than 100 pending
// children, roughly half the pending work is split off and submitted to
// the executor as a foreground job. The loop never adds frames: a child's
// own children go from AddTaskToScope to enqueueAddChildren, which starts
// a new one-frame queue, so the walk down the child DAG nests one call per
// level and a queue started by enqueueAddChildren never reaches the split
// condition.
func (b *Backend) runAddQueue(frames []traversalFrame, scope ScopeId) {
	for len(frames) > 0 {
		if shouldSplit(frames) {
			var split []traversalFrame
			split, frames = splitQueue(frames)
			b.submitSplit(JobAddToScopeQueue, split, scope)
			continue
		}

		frame := frames[0]
		frames = frames[1:]
		for _, child := range frame.children {
			b.AddTaskToScope(child, scope)
		}
	}
}

// runRemoveQueue mirrors runAddQueue for removal, splitting background
// (rather than foreground) jobs. It nests the same way: RemoveTaskFromScope
// hands a child's own children to enqueueRemoveChildren, and queues started
// there or by removeChildrenFromScope hold one frame, so they never reach
// the split condition.
func (b *Backend) runRemoveQueue(frames []traversalFrame, scope ScopeId) {
	for len(frames) > 0 {
		if shouldSplit(frames) {
			var split []traversalFrame
			split, frames = splitQueue(frames)
			b.submitSplit(JobRemoveFromScopeQueue, split, scope)
			continue
		}

		frame := frames[0]
		frames = frames[1:]
		for _, child := range frame.children {
			b.RemoveTaskFromScope(child, scope)
		}
	}
}

func shouldSplit(frames []traversalFrame) bool {
	if len(frames) <= queueSplitFrameThreshold {
		return false
	}
	return pendingCount(frames) > queueSplitPendingThreshold
}

func pendingCount(frames []traversalFrame) int {
	n := 0
	for _, f := range frames {
		n += len(f.children)
	}
	return n
}

// splitQueue removes roughly half of the pending children (by count, not
// frame count) from the front of frames and returns them as a standalone
// batch, along with what remains for the caller to keep draining.
func splitQueue(frames []traversalFrame) (taken, rest []traversalFrame) {
	target := pendingCount(frames) / 2
	count := 0
	i := 0
	for i < len(frames) && count < target {
		f := frames[i]
		need := target - count
		if len(f.children) <= need {
			taken = append(taken, f)
			count += len(f.children)
			i++
			continue
		}
		taken = append(taken, traversalFrame{children: f.children[:need], willBeOptimized: f.willBeOptimized})
		frames[i] = traversalFrame{children: f.children[need:], willBeOptimized: f.willBeOptimized}
		break
	}
	rest = frames[i:]
	return taken, rest
}

// submitSplit hands split off to the executor as a Job, subject to the
// traversal semaphore. When the semaphore is saturated, the engine runs
// the split inline instead of blocking — spec §5 forbids engine operations
// from suspending internally, so backpressure here trades a deeper call
// stack for never stalling a worker on job-queue capacity.
func (b *Backend) submitSplit(kind JobKind, split []traversalFrame, scope ScopeId) {
	if !b.traversalSem.TryAcquire(1) {
		if kind == JobAddToScopeQueue {
			b.runAddQueue(split, scope)
		} else {
			b.runRemoveQueue(split, scope)
		}
		return
	}

	job := Job{Kind: kind, Frames: split, QueueScope: scope, PendingCount: pendingCount(split)}
	if kind == JobAddToScopeQueue {
		b.executor.ScheduleBackendForegroundJob(job)
	} else {
		b.executor.ScheduleBackendBackgroundJob(job)
	}
}

// releaseTraversalSlot is called by RunJob after a queue job finishes, to
// give back the capacity submitSplit reserved.
func (b *Backend) releaseTraversalSlot() {
	b.traversalSem.Release(1)
}
