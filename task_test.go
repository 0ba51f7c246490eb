package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_WakeFromPending(t *testing.T) {
	task := NewTask(func(*Task) {})
	task.Wake()
	assert.Equal(t, Ready, task.Status())
}

func TestTask_WakeIdempotent(t *testing.T) {
	task := NewTask(func(*Task) {})
	task.Wake()
	task.Wake()
	assert.Equal(t, Ready, task.Status())
}

func TestTask_WakeNeverDowngradesSignaled(t *testing.T) {
	task := NewTask(func(*Task) {})
	task.status.store(Signaled)
	task.Wake()
	assert.Equal(t, Signaled, task.Status(), "wake must never downgrade Signaled")
}

func TestTask_SignalOutranksReady(t *testing.T) {
	task := NewTask(func(*Task) {})
	task.Wake() // -> Ready
	task.Signal()
	assert.Equal(t, Signaled, task.Status())
	task.Wake() // no-op: still Signaled
	assert.Equal(t, Signaled, task.Status())
}

func TestTask_ReceiveSignalOneShot(t *testing.T) {
	task := NewTask(func(*Task) {})
	task.Signal()
	require.True(t, task.ReceiveSignal())
	assert.Equal(t, Pending, task.Status())
	assert.False(t, task.ReceiveSignal(), "second receive without a new signal must fail")
}

func TestTask_IsSignaled(t *testing.T) {
	task := NewTask(func(*Task) {})
	assert.False(t, task.IsSignaled())
	task.Signal()
	assert.True(t, task.IsSignaled())
}

func TestTask_DeadlineMutation_PanicsWhileSchedulerOwned(t *testing.T) {
	task := NewTask(func(*Task) {})
	sch := &Scheduler{}
	task.sched.Store(sch)
	assert.Panics(t, func() {
		task.SetDeadlineMillis(1000)
	})
}

func TestTask_AdjustDeadlineMillis_KeepsSmaller(t *testing.T) {
	task := NewTask(func(*Task) {})
	task.deadline.Store(500)
	task.AdjustDeadlineMillis(200)
	assert.Equal(t, int64(200), task.Deadline())
	task.AdjustDeadlineMillis(900)
	assert.Equal(t, int64(200), task.Deadline(), "must not grow an existing deadline")
}

func TestTask_AdjustDeadlineMillis_InfiniteNeverWins(t *testing.T) {
	task := NewTask(func(*Task) {})
	task.deadline.Store(500)
	task.AdjustDeadlineMillis(DeadlineInfinite)
	assert.Equal(t, int64(500), task.Deadline())
}

func TestTask_PostWithoutSubmission_Panics(t *testing.T) {
	task := NewTask(func(*Task) {})
	assert.Panics(t, func() {
		task.Post()
	})
}

func TestTask_NewTask_NilCallbackPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewTask(nil)
	})
}
