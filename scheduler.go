package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"
)

// idleTimeoutCap bounds how long a worker ever parks without re-checking
// state, even if the nextDeadline hint is stale or absent. It also sets the
// granularity of the kernel-source poll fallback when no deadline is known.
const idleTimeoutCap = 200 * time.Millisecond

// Scheduler is a fixed pool of worker goroutines cooperatively executing
// Tasks, per spec.md §2–§4. There is no dedicated dispatcher goroutine: the
// scheduling role (schedulerRole) migrates between whichever worker
// currently holds it.
type Scheduler struct {
	cfg   config
	clock *clock

	front   frontQueue
	waiting waitingQueue
	ready   *readyQueue

	role     schedulerRole
	readySig *readySignal
	overload *overloadLogger

	kernelSource KernelSource
	io           *ioScheduler

	// batchSize bounds sched-batch (front-queue dispatch and expired-waiter
	// drain per pass) and exec-batch (tasks one worker runs before
	// re-attempting the scheduler role), per spec.md §4.5 steps 3-4, §5.
	batchSize int

	// pending is the front-queue dispatch buffer (spec.md §2): tasks popped
	// from the front queue but not yet resolved because the last pass hit
	// its sched-batch cap. Owned exclusively by whichever worker currently
	// holds the scheduler role; pendingCount mirrors its length so drained
	// can check it from any goroutine.
	pending      []*Task
	pendingCount atomic.Int32

	nextDeadline atomic.Int64 // hint consumed by idle workers; 0 means "unknown"

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	stopping atomic.Bool
	discard  atomic.Bool
	stopped  atomic.Bool
}

// New constructs a Scheduler. It must be started with Start before any Post*
// call will make progress (Post* still succeeds pre-Start; tasks simply
// accumulate in the front queue).
func New(opts ...Option) *Scheduler {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	s := &Scheduler{
		cfg:          cfg,
		clock:        newClock(),
		ready:        newReadyQueue(cfg.subQueueSize),
		readySig:     newReadySignal(),
		kernelSource: cfg.kernelSource,
		batchSize:    cfg.subQueueSize,
	}
	s.ready.reserve(cfg.reserve)
	s.overload = newOverloadLogger(cfg.logger, cfg.overloadWindow, cfg.overloadBurst)
	if s.kernelSource != nil {
		s.io = newIOScheduler(s, s.kernelSource)
	}
	return s
}

// Start spawns the worker pool. Returns ErrAlreadyStarted if called twice.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	n := s.cfg.threadCount
	if s.cfg.autoThreadCount {
		n = runtime.NumCPU()
		if n < 1 {
			n = 1
		}
	}
	s.started = true
	s.wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer s.wg.Done()
			labels := pprof.Labels("scheduler", s.cfg.name, "worker", fmt.Sprintf("%d", i))
			pprof.Do(context.Background(), labels, func(ctx context.Context) {
				s.runWorker()
			})
		}()
	}
	logf(s.cfg.logger, LevelInfo, "shutdown", "scheduler started", map[string]any{"workers": n, "name": s.cfg.name})
	return nil
}

// Stop initiates a graceful shutdown: no new Post* calls are accepted, but
// workers keep draining the ready queue until it and the front queue are
// empty, then exit. Stop blocks until every worker has exited or ctx is
// done, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	if s.stopping.CompareAndSwap(false, true) {
		logf(s.cfg.logger, LevelInfo, "shutdown", "graceful stop requested", nil)
		s.readySig.broadcast()
	}
	return s.awaitStop(ctx)
}

// HardStop initiates an immediate shutdown: workers stop pulling new work
// from the ready queue (in-flight callbacks still finish) and exit as soon
// as they next check. Tasks left in any queue are discarded.
func (s *Scheduler) HardStop() {
	s.stopping.Store(true)
	s.discard.Store(true)
	logf(s.cfg.logger, LevelWarn, "shutdown", "hard stop requested", nil)
	s.readySig.broadcast()
}

func (s *Scheduler) awaitStop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.stopped.Store(true)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) wakeRole() {
	s.readySig.broadcast()
}

// Post submits t for scheduling, honoring whatever deadline it currently
// carries (zero/default runs on the next pass; see SetDelay/SetDeadlineMillis
// to change that first).
func (s *Scheduler) Post(t *Task) error {
	if s.stopping.Load() {
		return ErrSchedulerStopped
	}
	t.home.Store(s)
	t.sched.Store(s)
	s.front.push(t)
	s.wakeRole()
	return nil
}

// PostDelay sets t's deadline to now+d and submits it.
func (s *Scheduler) PostDelay(t *Task, d time.Duration) error {
	t.SetDeadlineMillis(s.clock.nowMillis() + d.Milliseconds())
	return s.Post(t)
}

// PostDeadlineMillis sets t's absolute deadline (on this scheduler's clock)
// and submits it.
func (s *Scheduler) PostDeadlineMillis(t *Task, ms int64) error {
	t.SetDeadlineMillis(ms)
	return s.Post(t)
}

// PostWait sets an infinite deadline and submits t: it will not run until
// explicitly woken, signaled, or (IOTask) a kernel event arrives.
func (s *Scheduler) PostWait(t *Task) error {
	t.SetWait()
	return s.Post(t)
}

// PostOneShot wraps fn in a fresh Task and submits it to run as soon as
// possible. The returned Task is otherwise ordinary; fn may re-post it.
func (s *Scheduler) PostOneShot(fn func()) (*Task, error) {
	t := NewTask(func(t *Task) { fn() })
	if err := s.Post(t); err != nil {
		return nil, err
	}
	return t, nil
}

// runWorker is the body of every worker goroutine: try to take the
// scheduler role and hold it across passes until one actually publishes
// something (or a stop is requested), then drain the ready queue in
// exec-batch-sized chunks, and park when there is genuinely nothing to do.
func (s *Scheduler) runWorker() {
	for {
		if s.role.tryTake() {
			s.holdRoleUntilWorkOrStop()
			s.role.release()
			s.readySig.broadcast() // unconditional: see schedulerRole doc
		}

		if s.discard.Load() {
			return
		}

		if s.runExecBatch() {
			continue
		}

		if s.stopping.Load() && s.drained() {
			return
		}

		s.parkUntilWork()
	}
}

// holdRoleUntilWorkOrStop keeps the scheduler role and runs scheduling
// passes back to back, blocking between them, until a pass publishes
// something or a stop is requested. This is the "retry:" loop from the
// original project's TaskScheduler: the role holder does not hand the role
// back and rebroadcast every time it finds nothing to do, which would leave
// an idle scheduler busy-spinning instead of reaching the blocked state
// spec.md §5 requires.
func (s *Scheduler) holdRoleUntilWorkOrStop() {
	for {
		published := s.runSchedulingPass()
		if published > 0 || s.stopping.Load() || s.discard.Load() {
			return
		}
		s.parkUntilWork()
	}
}

// runExecBatch pops and executes up to batchSize ready tasks, the
// exec-batch bound (spec.md §4.5 step 4, §5): it keeps one worker from
// monopolizing the ready queue while the scheduler role sits free for
// another worker to take. Returns whether it executed anything.
func (s *Scheduler) runExecBatch() bool {
	ran := false
	for n := 0; n < s.batchSize; n++ {
		if s.discard.Load() {
			break
		}
		t := s.ready.pop()
		if t == nil {
			break
		}
		s.executeTask(t)
		ran = true
	}
	return ran
}

// drained reports whether the scheduler currently has nothing left to do:
// an approximation (front/ready queues are concurrently mutable), good
// enough to decide "safe to exit" during a graceful stop because nothing
// can submit new work once stopping is set (Post refuses it).
func (s *Scheduler) drained() bool {
	return s.front.empty() && s.pendingCount.Load() == 0 && s.ready.empty() && !s.role.taken.Load()
}

func (s *Scheduler) parkUntilWork() {
	ch := s.readySig.channel()
	timeout := s.idleTimeout()
	if timeout <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	}
}

func (s *Scheduler) idleTimeout() time.Duration {
	nd := s.nextDeadline.Load()
	if nd <= 0 {
		return idleTimeoutCap
	}
	remain := time.Duration(nd-s.clock.nowMillis()) * time.Millisecond
	if remain <= 0 {
		return 0
	}
	if remain > idleTimeoutCap {
		return idleTimeoutCap
	}
	return remain
}

// runSchedulingPass implements spec.md §4.5: drain the front queue into the
// pending buffer, dispatch up to sched-batch entries from it, promote
// expired waiting tasks (also capped at sched-batch), and (if configured)
// drain kernel readiness events. Called only by whichever worker currently
// holds the scheduler role. Returns how many tasks were newly made Ready,
// so the caller can tell a productive pass from an idle one.
func (s *Scheduler) runSchedulingPass() int {
	head, _ := s.front.popAll()
	for t := head; t != nil; {
		next := t.next.Load()
		s.pending = append(s.pending, t)
		t = next
	}

	readyCount := 0
	n := len(s.pending)
	if s.batchSize > 0 && n > s.batchSize {
		n = s.batchSize
	}
	for _, t := range s.pending[:n] {
		if s.resolveFrontQueueEntry(t) {
			readyCount++
		}
	}
	s.pending = s.pending[n:]
	s.pendingCount.Store(int32(len(s.pending)))

	now := s.clock.nowMillis()
	for _, t := range s.waiting.popExpired(now, s.batchSize) {
		if t.status.cas(Waiting, Ready) {
			t.isExpired.Store(true)
			s.ready.push(t)
			readyCount++
		}
	}

	if nd, ok := s.waiting.peekDeadline(); ok {
		s.nextDeadline.Store(nd)
	} else {
		s.nextDeadline.Store(0)
	}

	if s.io != nil {
		readyCount += s.io.drain(now)
	}

	const waitingBacklogThreshold = 10000
	if depth := s.waiting.len(); depth > waitingBacklogThreshold {
		s.overload.warnBacklog("waiting", depth)
	}
	if len(s.pending) > 0 {
		// Leftover from the sched-batch cap: make sure this pass's own
		// idle-check (holdRoleUntilWorkOrStop) doesn't mistake a backlog
		// for quiescence, and re-wake immediately to keep draining it.
		s.wakeRole()
	}
	if readyCount > 0 {
		logf(s.cfg.logger, LevelDebug, "role", "scheduling pass", map[string]any{"ready": readyCount})
	}
	return readyCount
}

// resolveFrontQueueEntry decides queue membership for one task freshly
// popped from the front queue, based on its current status. Returns
// whether the task became (or already was) ready to run.
func (s *Scheduler) resolveFrontQueueEntry(t *Task) bool {
	if t.io != nil && t.io.closing.Load() && !t.io.closed.Load() {
		s.finalizeClose(t)
		return true
	}
	switch t.status.load() {
	case Ready, Signaled:
		t.isExpired.Store(false)
		s.waiting.remove(t)
		s.ready.push(t)
		return true
	case Pending:
		t.isExpired.Store(false)
		if t.status.cas(Pending, Waiting) {
			if t.Deadline() != DeadlineInfinite {
				s.waiting.push(t)
			}
			return false
		}
		// Woken or signaled between the load and the CAS: publish it.
		s.ready.push(t)
		return true
	case Waiting:
		// Re-observed while already logically Waiting (e.g. the deadline
		// was changed between executions, before this submission); ensure
		// heap membership matches the current deadline.
		if t.Deadline() != DeadlineInfinite && t.heapIndex < 0 {
			s.waiting.push(t)
		}
	}
	return false
}

// finalizeClose runs the Closing->Closed transition (spec.md §4.8) from
// inside the scheduling pass, serialized through the scheduler-role holder:
// unregister the descriptor, drop any heap membership, clear accumulated
// events, mark Closed, and publish the task to the ready queue so a worker
// delivers the close callback exactly once. Mirrors the original project's
// PrivCloseDo running inside TaskScheduler's scheduling pass rather than on
// the caller's own thread (IOCore_epoll.cpp).
func (s *Scheduler) finalizeClose(t *Task) {
	if s.io != nil {
		if err := s.io.source.Unregister(t.io.fd); err != nil {
			logf(s.cfg.logger, LevelWarn, "io", "unregister on close failed", map[string]any{"fd": t.io.fd, "error": err.Error()})
		}
	}
	s.waiting.remove(t)
	t.io.pending.Store(0)
	t.io.closed.Store(true)
	t.status.store(Ready)
	t.isExpired.Store(false)
	s.ready.push(t)
}

// executeTask runs t's callback. Popping a task from the ready queue
// consumes a plain Ready status (CAS to Pending); a Signaled status is left
// untouched, since only ReceiveSignal inside the callback may consume it —
// an unreceived signal keeps outranking everything, including the task's
// own deadline, on every future Post.
func (s *Scheduler) executeTask(t *Task) {
	t.status.cas(Ready, Pending)
	t.sched.Store(nil)
	t.resetDeadlineOnEntry()
	defer func() {
		if r := recover(); r != nil {
			logf(s.cfg.logger, LevelError, "task", "callback panicked", map[string]any{"name": t.Name, "recovered": fmt.Sprint(r)})
			panic(r)
		}
	}()
	t.callback(t)
}
