package scheduler

import "sync/atomic"

// schedulerRole is the single atomic flag that the "migrating scheduler"
// design turns on: at most one worker at a time runs scheduling passes
// (drain front queue, check waiting queue, feed the ready queue). There is
// no dedicated dispatcher goroutine — any worker that finds the role free
// takes it and holds it across as many passes as it takes to actually
// publish something (see Scheduler.holdRoleUntilWorkOrStop), blocking
// between passes rather than handing the role back while still idle, then
// releases it once.
//
// The release step unconditionally broadcasts the ready signal, even if the
// releasing worker believes it queued no new work. This is deliberate: the
// alternative (only signal when you know you produced something) is the
// classic lost-wakeup race — a task can be woken by another goroutine in the
// narrow window between this worker's last check and its release of the
// role, and without an unconditional broadcast nobody would ever notice.
type schedulerRole struct {
	taken atomic.Bool
}

// tryTake attempts to acquire the role, acquire-ordered so everything the
// winner subsequently reads (front queue contents, waiting queue state) is
// seen consistently with whoever last released it.
func (r *schedulerRole) tryTake() bool {
	return r.taken.CompareAndSwap(false, true)
}

// release gives up the role, release-ordered, then the caller must
// unconditionally broadcast the ready signal (see Scheduler.wakeRole /
// runWorker) — release alone does not notify anyone.
func (r *schedulerRole) release() {
	r.taken.Store(false)
}
