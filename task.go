package scheduler

import (
	"sync/atomic"
	"time"
)

// Runnable is a task's callback. It receives a self-reference so the task
// can inspect its own signal/expiry state and re-post itself before
// returning.
type Runnable func(t *Task)

// Task is a user-visible unit of scheduled work: a callback, a deadline,
// and an atomic status that drives it through the Pending/Waiting/Ready/
// Signaled pipeline described in spec.md §4.1.
//
// A Task is constructed once (see NewTask) and then submitted and resubmitted
// via a Scheduler (or the Post* convenience methods here, which require the
// task to have been submitted at least once already). It must not be copied
// after construction.
type Task struct {
	_ [0]func() // not comparable

	status    atomicStatus
	deadline  atomic.Int64 // milliseconds since the owning scheduler's clock anchor, or DeadlineInfinite
	isExpired atomic.Bool

	callback Runnable

	// next is the intrusive link used exclusively by the front queue.
	// Owned by whichever goroutine is currently pushing/popping the front
	// queue; never touched outside of frontQueue methods.
	next atomic.Pointer[Task]

	// heapIndex is the task's position in the waiting queue's heap, or -1
	// if the task isn't in it. Mutated only by the scheduler-role holder,
	// per spec.md invariant 4 — no synchronization needed.
	heapIndex int

	// sched is the back-reference to the owning scheduler, set for the
	// window during which the task is scheduler-owned (from submission
	// through to just before the callback runs) and nil otherwise. It is
	// what lets Task.Wake/Signal re-enter the front queue without the caller
	// re-passing the Scheduler, and what SetDeadline et al. check to enforce "only
	// mutate the deadline while not scheduler-owned".
	sched atomic.Pointer[Scheduler]

	// home is the last scheduler this task was submitted to. Unlike sched,
	// it is never cleared, so Post/PostDelay/PostWait work from inside the
	// task's own callback (where sched is nil, precisely so the callback
	// is free to mutate the deadline before re-posting).
	home atomic.Pointer[Scheduler]

	// io (descriptor, interest, opMask, close flags, accumulated events) is
	// populated only by IOTask; kept
	// on Task (rather than via an interface) so the scheduler's hot path
	// never needs a type switch. A plain Task never touches them.
	io *ioState

	// Name is an optional, purely diagnostic label (used in log entries).
	Name string
}

// NewTask constructs a Task in the Pending state, not yet submitted to any
// scheduler.
func NewTask(callback Runnable) *Task {
	if callback == nil {
		panic("scheduler: NewTask: nil callback")
	}
	t := &Task{heapIndex: -1, callback: callback}
	t.status.store(Pending)
	t.deadline.Store(0)
	return t
}

// Status returns the task's current status. Read-only inspection; per
// spec.md this is only meaningful between executions (the value may change
// concurrently at any time by definition).
func (t *Task) Status() Status {
	return t.status.load()
}

// IsExpired reports whether the task's last transition into Ready was
// triggered by deadline expiry rather than an explicit wake/signal/event.
func (t *Task) IsExpired() bool {
	return t.isExpired.Load()
}

// IsSignaled reports whether the task currently carries an unreceived
// signal, without consuming it.
func (t *Task) IsSignaled() bool {
	return t.status.load() == Signaled
}

// Deadline returns the task's current deadline in milliseconds on the
// owning scheduler's monotonic clock, or DeadlineInfinite.
func (t *Task) Deadline() int64 {
	return t.deadline.Load()
}

func (t *Task) requireNotSchedulerOwned(op string) {
	if t.sched.Load() != nil {
		panic("scheduler: " + op + ": task is scheduler-owned; deadlines may only be mutated between executions")
	}
}

// SetDelay sets the deadline to now+d, replacing any existing deadline.
// Panics if the task is currently scheduler-owned (i.e. submitted and not
// yet executing) — this is a programming-contract violation per spec.md §4.1.
func (t *Task) SetDelay(d time.Duration) {
	t.requireNotSchedulerOwned("SetDelay")
	t.setDelayUnchecked(d)
}

// SetDeadlineMillis sets the absolute deadline, in milliseconds on the
// owning scheduler's monotonic clock. Use DeadlineInfinite for "never
// expire by time" (equivalent to SetWait).
func (t *Task) SetDeadlineMillis(ms int64) {
	t.requireNotSchedulerOwned("SetDeadlineMillis")
	t.deadline.Store(ms)
}

// SetWait sets an infinite deadline: the task will not become Ready until
// woken, signaled, or (IOTask) a kernel event arrives.
func (t *Task) SetWait() {
	t.SetDeadlineMillis(DeadlineInfinite)
}

// AdjustDelay sets the deadline to the minimum of the current deadline and
// now+d.
func (t *Task) AdjustDelay(d time.Duration, now int64) {
	t.requireNotSchedulerOwned("AdjustDelay")
	t.adjustDeadlineUnchecked(now + d.Milliseconds())
}

// AdjustDeadlineMillis sets the deadline to the minimum of the current
// deadline and ms.
func (t *Task) AdjustDeadlineMillis(ms int64) {
	t.requireNotSchedulerOwned("AdjustDeadlineMillis")
	t.adjustDeadlineUnchecked(ms)
}

func (t *Task) adjustDeadlineUnchecked(ms int64) {
	for {
		cur := t.deadline.Load()
		if cur != DeadlineInfinite && cur <= ms {
			return
		}
		if ms == DeadlineInfinite {
			return // infinite is never smaller than a finite deadline
		}
		if t.deadline.CompareAndSwap(cur, ms) {
			return
		}
	}
}

func (t *Task) setDelayUnchecked(d time.Duration) {
	var now int64
	if sch := t.home.Load(); sch != nil {
		now = sch.clock.nowMillis()
	}
	t.deadline.Store(now + d.Milliseconds())
}

// resetDeadlineOnEntry implements "on callback entry, deadline is reset to
// zero" (spec.md §4.1): a re-post without an explicit new deadline runs
// immediately.
func (t *Task) resetDeadlineOnEntry() {
	t.deadline.Store(0)
}

// Wake forces the task toward Ready, without setting the signal flag.
// It never downgrades Signaled, and is idempotent: wake;wake has the same
// observable effect as a single wake.
func (t *Task) Wake() {
	for {
		cur := t.status.load()
		switch cur {
		case Ready, Signaled:
			return // no-op: already at least Ready
		case Pending:
			if t.status.cas(Pending, Ready) {
				return
			}
		case Waiting:
			if t.status.cas(Waiting, Ready) {
				t.repostToFrontQueue()
				return
			}
		default:
			return
		}
	}
}

// Signal unconditionally sets the one-shot signal flag (release ordering),
// re-posting the task to the front queue if it was Waiting so the scheduler
// observes it. Signal outranks Ready/wake: once Signaled, only
// ReceiveSignal can clear it.
func (t *Task) Signal() {
	for {
		cur := t.status.load()
		if cur == Signaled {
			return
		}
		if t.status.cas(cur, Signaled) {
			if cur == Waiting {
				t.repostToFrontQueue()
			}
			return
		}
	}
}

// ReceiveSignal atomically moves Signaled->Pending (acquire ordering) and
// reports whether a signal was consumed. It is the only way to clear the
// signal flag; a second call without an intervening Signal returns false.
func (t *Task) ReceiveSignal() bool {
	return t.status.cas(Signaled, Pending)
}

// repostToFrontQueue re-enters the front queue so the scheduler-role holder
// observes a Waiting->Ready transition performed by Wake/Signal from a
// non-scheduler goroutine. Invoked with the task already in its new status.
func (t *Task) repostToFrontQueue() {
	if sch := t.sched.Load(); sch != nil {
		sch.front.push(t)
		sch.wakeRole()
	}
}

// Post re-submits the task using the scheduler it was last submitted to.
// Panics if the task has never been submitted.
func (t *Task) Post() {
	t.mustScheduler("Post").Post(t)
}

// PostDelay is equivalent to SetDelay(d) followed by Post, performed
// atomically with respect to scheduler ownership.
func (t *Task) PostDelay(d time.Duration) {
	t.mustScheduler("PostDelay").PostDelay(t, d)
}

// PostDeadlineMillis is equivalent to SetDeadlineMillis(ms) followed by Post.
func (t *Task) PostDeadlineMillis(ms int64) {
	t.mustScheduler("PostDeadlineMillis").PostDeadlineMillis(t, ms)
}

// PostWait is equivalent to SetWait followed by Post.
func (t *Task) PostWait() {
	t.mustScheduler("PostWait").PostWait(t)
}

func (t *Task) mustScheduler(op string) *Scheduler {
	sch := t.home.Load()
	if sch == nil {
		panic("scheduler: " + op + ": task has never been submitted to a Scheduler")
	}
	return sch
}
