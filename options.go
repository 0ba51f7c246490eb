package scheduler

import "time"

// config holds every knob an Option can set, applied against sane defaults
// before a Scheduler is constructed. Grounded on the teacher's functional
// options layer (LoopOption/applyLoop): a private struct plus a closure
// type, rather than a long constructor argument list or a builder.
type config struct {
	threadCount      int
	autoThreadCount  bool
	subQueueSize     int
	reserve          int
	name             string
	logger           Logger
	overloadWindow   time.Duration
	overloadBurst    int
	kernelSource     KernelSource
}

func defaultConfig() config {
	return config{
		threadCount:    4,
		subQueueSize:   defaultReadyShardCapacity,
		reserve:        0,
		name:           "scheduler",
		logger:         nopLogger{},
		overloadWindow: time.Second,
		overloadBurst:  1,
	}
}

// Option configures a Scheduler at construction time.
type Option func(*config)

// WithThreadCount sets the fixed worker pool size. Ignored if
// WithAutoThreadCount is also given; the latter wins.
func WithThreadCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.threadCount = n
		}
	}
}

// WithAutoThreadCount sizes the worker pool to runtime.NumCPU() at Start
// time instead of a fixed count.
func WithAutoThreadCount() Option {
	return func(c *config) {
		c.autoThreadCount = true
	}
}

// WithSubQueueSize overrides the ready queue's per-shard capacity. It also
// sets the sched-batch and exec-batch bounds (spec.md §4.5, §5): the most
// tasks a single scheduling pass will dispatch, or a single worker will
// execute back to back, before yielding. Mainly useful for tests that want
// to exercise shard rollover, or batch capping, without pushing thousands
// of tasks.
func WithSubQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.subQueueSize = n
		}
	}
}

// WithReserve hints the expected steady-state ready-task population,
// letting the ready queue preallocate its shard chain (spec.md §4.4/§6)
// instead of growing it one shard at a time under write pressure.
func WithReserve(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.reserve = n
		}
	}
}

// WithName sets a diagnostic name surfaced in log entries and in worker
// goroutine labels (see runtime/pprof.Do usage in scheduler.go).
func WithName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.name = name
		}
	}
}

// WithLogger overrides the default no-op Logger.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOverloadRateLimit bounds how often the waiting-queue backlog warning
// can fire: at most burst times per window, via a catrate limiter.
func WithOverloadRateLimit(window time.Duration, burst int) Option {
	return func(c *config) {
		if window > 0 {
			c.overloadWindow = window
		}
		if burst > 0 {
			c.overloadBurst = burst
		}
	}
}

// WithKernelSource attaches a kernel readiness source, enabling IOTask
// support. Without this option, scheduling passes drain no kernel events and
// IOTask.Reschedule returns ErrKernelSourceUnavailable.
func WithKernelSource(k KernelSource) Option {
	return func(c *config) {
		c.kernelSource = k
	}
}
