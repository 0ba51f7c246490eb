package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s := New(append([]Option{WithThreadCount(4), WithName(t.Name())}, opts...)...)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			s.HardStop()
		}
	})
	return s
}

// TestScheduler_PingPong is scenario S1: two tasks increment a shared
// counter and each re-posts itself until the target is reached.
func TestScheduler_PingPong(t *testing.T) {
	s := newTestScheduler(t)

	const target = 2000
	var count atomic.Int64
	done := make(chan struct{})

	var a, b *Task
	step := func(self *Task) {
		n := count.Add(1)
		if n == target {
			close(done)
		}
		if n >= target {
			return
		}
		_ = s.PostDelay(self, 0)
	}
	a = NewTask(func(t *Task) { step(a) })
	b = NewTask(func(t *Task) { step(b) })

	require.NoError(t, s.Post(a))
	require.NoError(t, s.Post(b))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ping-pong did not reach target in time")
	}
	assert.GreaterOrEqual(t, count.Load(), int64(target))
}

// TestScheduler_OneShotBurst is scenario S2: a large number of independent
// one-shot tasks all complete.
func TestScheduler_OneShotBurst(t *testing.T) {
	s := newTestScheduler(t)

	const n = 10000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		_, err := s.PostOneShot(func() { wg.Done() })
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("not all one-shot tasks ran")
	}
}

// TestScheduler_PostWaitThenExternalWake is scenario S3: a task parked with
// an infinite deadline only runs once explicitly woken.
func TestScheduler_PostWaitThenExternalWake(t *testing.T) {
	s := newTestScheduler(t)

	ran := make(chan struct{})
	task := NewTask(func(t *Task) { close(ran) })
	require.NoError(t, s.PostWait(task))

	select {
	case <-ran:
		t.Fatal("task with infinite deadline must not run before being woken")
	case <-time.After(100 * time.Millisecond):
	}

	task.Wake()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("woken task did not run")
	}
}

// TestScheduler_SignalPriorityOverWake is scenario S4: a wake that follows a
// signal does not downgrade it, so the callback still observes IsSignaled.
func TestScheduler_SignalPriorityOverWake(t *testing.T) {
	s := newTestScheduler(t)

	observed := make(chan bool, 1)
	task := NewTask(func(t *Task) {
		observed <- t.IsSignaled()
	})
	require.NoError(t, s.PostWait(task))
	task.Signal()
	task.Wake()

	select {
	case wasSignaled := <-observed:
		assert.True(t, wasSignaled)
	case <-time.After(2 * time.Second):
		t.Fatal("signaled task did not run")
	}
}

// TestScheduler_DeadlineOrdering is scenario S5: tasks posted with deadlines
// 300,100,200,400ms run in ascending deadline order once all have expired.
func TestScheduler_DeadlineOrdering(t *testing.T) {
	s := New(WithThreadCount(1))
	s.clock.setFake(0)

	var mu sync.Mutex
	var order []int64
	deadlines := []int64{300, 100, 200, 400}
	for _, ms := range deadlines {
		ms := ms
		task := NewTask(func(t *Task) {
			mu.Lock()
			order = append(order, ms)
			mu.Unlock()
		})
		require.NoError(t, s.PostDeadlineMillis(task, ms))
	}

	s.clock.advanceFake(500 * time.Millisecond)
	s.runSchedulingPass()

	for {
		tk := s.ready.pop()
		if tk == nil {
			break
		}
		s.executeTask(tk)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{100, 200, 300, 400}, order)
}

// TestScheduler_IdleRoleHolderBlocksInsteadOfBusySpinning guards against the
// role being handed back and rebroadcast on every empty pass: a genuinely
// idle role holder must block inside holdRoleUntilWorkOrStop until there is
// something to publish, not return immediately pass after pass.
func TestScheduler_IdleRoleHolderBlocksInsteadOfBusySpinning(t *testing.T) {
	s := New(WithThreadCount(2))
	require.True(t, s.role.tryTake())

	done := make(chan struct{})
	go func() {
		s.holdRoleUntilWorkOrStop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("holdRoleUntilWorkOrStop returned while genuinely idle; it must block rather than busy-spin")
	case <-time.After(50 * time.Millisecond):
	}

	task := NewTask(func(*Task) {})
	require.NoError(t, s.Post(task))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("holdRoleUntilWorkOrStop did not return once work was published")
	}
}

func TestScheduler_StartTwiceFails(t *testing.T) {
	s := New(WithThreadCount(1))
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)
}

func TestScheduler_PostAfterStopFails(t *testing.T) {
	s := New(WithThreadCount(1))
	require.NoError(t, s.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	task := NewTask(func(*Task) {})
	assert.ErrorIs(t, s.Post(task), ErrSchedulerStopped)
}

func TestScheduler_HardStopReturnsPromptly(t *testing.T) {
	s := New(WithThreadCount(4))
	require.NoError(t, s.Start())

	for i := 0; i < 1000; i++ {
		_, _ = s.PostOneShot(func() { time.Sleep(time.Millisecond) })
	}
	s.HardStop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
