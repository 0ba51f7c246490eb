package scheduler

import (
	"sync/atomic"
	"time"
)

// IOEventMask is a bitmask of kernel readiness conditions. Register/Modify
// take an interest mask; Drain reports which of them actually fired.
type IOEventMask uint32

const (
	IOReadable IOEventMask = 1 << iota
	IOWritable
	IOError
	IOHangup
)

func (m IOEventMask) has(bit IOEventMask) bool { return m&bit != 0 }

// KernelEvent is one readiness (or completion) notification surfaced by a
// KernelSource. Err carries operational kernel errors as data, per the
// package's error-handling design (spec.md §7): a descriptor-level failure
// never panics and is never returned from Drain. The scheduling pass records
// a non-nil Err as the IOError bit in the owning IOTask's accumulated events;
// the error value itself is not passed on to the callback.
type KernelEvent struct {
	Token  any
	Events IOEventMask
	Err    error
}

// KernelSource abstracts the platform readiness mechanism. The data model
// (interest masks in, a flat slice of KernelEvents out) is shared by both
// readiness-oriented backends (epoll, kqueue — multiple wakeups OR together
// into one mask per descriptor) and completion-oriented ones (IOCP,
// io_uring — one KernelEvent per completed operation); only poller_*.go's
// internals differ. Only the Linux epoll backend is implemented here (see
// poller_linux.go); poller_stub.go answers ErrKernelSourceUnavailable
// elsewhere.
type KernelSource interface {
	// Register begins watching fd for interest, associated with an opaque
	// token returned unchanged on later KernelEvents (an *IOTask, in this
	// package's usage).
	Register(fd int, interest IOEventMask, token any) error
	// Modify changes fd's interest mask in place.
	Modify(fd int, interest IOEventMask) error
	// Unregister stops watching fd.
	Unregister(fd int) error
	// Drain performs one poll, blocking for at most timeout (0 = return
	// immediately with whatever is already pending), and reports every
	// KernelEvent observed.
	Drain(timeout time.Duration) ([]KernelEvent, error)
	// Close releases the kernel resources backing the source (e.g. the
	// epoll fd itself). No Register/Drain call may follow Close.
	Close() error
}

// ioOpKind constrains which operations an IOTask's owner declared it would
// perform; Reschedule panics if asked to watch for an interest outside that
// contract, mirroring the original project's per-task operation assertion.
type ioOpKind uint32

const (
	// OpRead permits IOReadable interest.
	OpRead ioOpKind = 1 << iota
	// OpWrite permits IOWritable interest.
	OpWrite
)

func (k ioOpKind) permits(interest IOEventMask) bool {
	if interest.has(IOReadable) && k&OpRead == 0 {
		return false
	}
	if interest.has(IOWritable) && k&OpWrite == 0 {
		return false
	}
	return true
}

// ioState is the IO-specific state an IOTask adds to a plain Task. Kept as
// a field on Task itself (rather than via an interface) so the hot
// scheduling path never needs a type switch to tell a Task from an IOTask.
type ioState struct {
	fd       int
	interest IOEventMask
	opMask   ioOpKind

	closing atomic.Bool
	closed  atomic.Bool

	pending atomic.Uint32 // IOEventMask accumulated since last delivered
}

// IOTask pairs a Task with one kernel descriptor. spec.md §4.6–§4.8: the
// same Waiting->Ready transition that deadlines and wakes drive is also
// driven by kernel readiness, merged (OR'd) across events observed in a
// single drain.
type IOTask struct {
	*Task
}

// NewIOTask constructs an IOTask for fd, watching for interest, restricted
// to the operation kinds in ops (Reschedule panics if later asked to watch
// for something ops doesn't permit).
func NewIOTask(fd int, interest IOEventMask, ops ioOpKind, callback Runnable) *IOTask {
	if !ops.permits(interest) {
		panic("scheduler: NewIOTask: interest outside declared operation kinds")
	}
	t := NewTask(callback)
	t.io = &ioState{fd: fd, interest: interest, opMask: ops}
	return &IOTask{Task: t}
}

// FD returns the watched descriptor.
func (t *IOTask) FD() int { return t.io.fd }

// Events returns the kernel events accumulated (OR'd together) since the
// last ReceiveEvents (or close), without clearing them. Intended to be
// called from within the callback.
func (t *IOTask) Events() IOEventMask {
	return IOEventMask(t.io.pending.Load())
}

// ReceiveEvents atomically reads and clears the accumulated events, mirroring
// Task.ReceiveSignal's one-shot consumption pattern.
func (t *IOTask) ReceiveEvents() IOEventMask {
	return IOEventMask(t.io.pending.Swap(0))
}

// Reschedule changes the watched interest mask, re-arming the descriptor
// with the owning scheduler's kernel source. Panics if interest falls
// outside the operation kinds declared at construction (a programming
// contract violation, per the original project's IOTask::Reschedule), or if
// the task is closing/closed.
func (t *IOTask) Reschedule(interest IOEventMask) error {
	if !t.io.opMask.permits(interest) {
		panic("scheduler: IOTask.Reschedule: interest outside declared operation kinds")
	}
	if t.io.closing.Load() || t.io.closed.Load() {
		panic("scheduler: IOTask.Reschedule: task is closing or closed")
	}
	t.io.interest = interest
	sch := t.home.Load()
	if sch == nil || sch.io == nil {
		return ErrKernelSourceUnavailable
	}
	return sch.io.source.Modify(t.io.fd, interest)
}

// Close begins the Closing->Closed sequence (spec.md §4.8). It does not
// unregister the descriptor itself: it flips the task to Closing and
// re-enters the front queue, so the unregister and the Closed transition
// happen inside a scheduling pass (finalizeClose), serialized through
// whichever worker holds the scheduler role, the same as the original
// project's PrivCloseDo being run from inside TaskScheduler's scheduling
// pass rather than from the caller's own thread. The task is delivered to
// a worker exactly one further time so the callback can observe Closed()
// and release any resources; Events()/ReceiveEvents() read as empty by
// then. Double-closing an IOTask is a programming-contract violation (see
// errors.go) and panics rather than silently succeeding.
func (t *IOTask) Close() error {
	if !t.io.closing.CompareAndSwap(false, true) {
		panic("scheduler: IOTask.Close: task is already closing or closed")
	}
	sch := t.home.Load()
	if sch == nil {
		// Never submitted to a scheduler: nothing to unregister and no
		// scheduling pass will ever observe this task.
		t.io.closed.Store(true)
		return nil
	}
	sch.front.push(t.Task)
	sch.wakeRole()
	return nil
}

// Closing reports whether Close has been called but the final
// scheduling-pass transition to Closed hasn't yet run.
func (t *IOTask) Closing() bool { return t.io.closing.Load() && !t.io.closed.Load() }

// Closed reports whether the Closing->Closed sequence has completed: the
// descriptor has been unregistered and the close callback has been (or is
// about to be) delivered.
func (t *IOTask) Closed() bool { return t.io.closed.Load() }

// ioScheduler wires a KernelSource into a Scheduler's scheduling pass: one
// non-blocking Drain per pass, OR-merging events into each affected IOTask
// and promoting it Waiting->Ready.
type ioScheduler struct {
	sched  *Scheduler
	source KernelSource
}

func newIOScheduler(sched *Scheduler, source KernelSource) *ioScheduler {
	return &ioScheduler{sched: sched, source: source}
}

// drain polls the kernel source once and promotes every affected IOTask.
// Returns how many tasks were newly made Ready.
func (s *ioScheduler) drain(now int64) int {
	events, err := s.source.Drain(0)
	if err != nil {
		logf(s.sched.cfg.logger, LevelError, "io", "kernel source drain failed", map[string]any{"error": err.Error()})
		return 0
	}
	promoted := 0
	for _, ev := range events {
		it, ok := ev.Token.(*IOTask)
		if !ok || it == nil {
			continue
		}
		if it.io.closed.Load() {
			// finalizeClose has already unregistered the descriptor and
			// published the close callback; a straggling event from the
			// same drain batch must not re-promote it.
			continue
		}
		if ev.Err != nil {
			it.io.pending.Or(uint32(IOError))
		} else {
			it.io.pending.Or(uint32(ev.Events))
		}
		if it.status.cas(Waiting, Ready) {
			it.isExpired.Store(false)
			s.sched.ready.push(it.Task)
			promoted++
		}
	}
	return promoted
}
