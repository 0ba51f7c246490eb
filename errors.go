package scheduler

import "errors"

// Standard errors returned by Scheduler and Task methods.
//
// Per the core's error-handling design, these are conditions the caller can
// reasonably observe and branch on. Besides them, Stop returns ctx.Err() when
// its context ends first, and the epoll kernel source passes OS errors
// through. Programming-contract violations (mutating a scheduler-owned
// task, double-closing an IOTask, signalling a nil task) fail hard via
// panic instead of being wrapped in one of these — they indicate misuse,
// not a runtime condition.
var (
	// ErrSchedulerStopped is returned by Post* methods once Stop or
	// HardStop has been called.
	ErrSchedulerStopped = errors.New("scheduler: stopped")

	// ErrAlreadyStarted is returned by Start when the scheduler is already
	// running.
	ErrAlreadyStarted = errors.New("scheduler: already started")

	// ErrNotStarted is returned by operations that require a running
	// scheduler (e.g. Stop on a scheduler that was never started).
	ErrNotStarted = errors.New("scheduler: not started")

	// ErrKernelSourceUnavailable is returned by NewEpollKernelSource when no
	// kernel readiness source is available for the current platform, and by
	// IOTask.Reschedule when the task's scheduler has no kernel source.
	ErrKernelSourceUnavailable = errors.New("scheduler: kernel readiness source unavailable on this platform")

	// ErrDescriptorRegistered is returned when registering a descriptor
	// that is already registered with a kernel source.
	ErrDescriptorRegistered = errors.New("scheduler: descriptor already registered")

	// ErrDescriptorNotRegistered is returned when unregistering a
	// descriptor that was never (or is no longer) registered.
	ErrDescriptorNotRegistered = errors.New("scheduler: descriptor not registered")
)
