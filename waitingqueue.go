package scheduler

import "container/heap"

// waitingQueue is the deadline-ordered min-heap holding every task currently
// in the Waiting status with a finite deadline (spec.md §4.3). It is owned
// exclusively by whichever goroutine currently holds the scheduler role;
// every method here assumes single-threaded access, same as the teacher's
// timer heap.
//
// Tasks with an infinite deadline (DeadlineInfinite) are never pushed here:
// they sit in Waiting with no queue membership at all, and only leave it via
// Wake, Signal, or (IOTask) a kernel event.
type waitingQueue struct {
	h taskHeap
}

func newWaitingQueue() *waitingQueue {
	return &waitingQueue{}
}

func (q *waitingQueue) push(t *Task) {
	heap.Push(&q.h, t)
}

// peekDeadline returns the earliest deadline in the queue and whether the
// queue is non-empty.
func (q *waitingQueue) peekDeadline() (int64, bool) {
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].Deadline(), true
}

// popExpired removes and returns up to max tasks whose deadline is <= now,
// in increasing deadline order. max bounds drain, same as sched-batch caps
// the front-queue dispatch loop (spec.md §4.5 steps 3-4, §5): a deadline
// storm leaves the remainder in the heap for the next scheduling pass
// rather than monopolizing this one. max <= 0 means unbounded.
func (q *waitingQueue) popExpired(now int64, max int) []*Task {
	var out []*Task
	for len(q.h) > 0 && q.h[0].Deadline() <= now {
		if max > 0 && len(out) >= max {
			break
		}
		out = append(out, heap.Pop(&q.h).(*Task))
	}
	return out
}

// remove takes t out of the heap regardless of position, used when a task
// is woken or signaled directly out of Waiting. No-op if t isn't a member.
func (q *waitingQueue) remove(t *Task) {
	if t.heapIndex < 0 || t.heapIndex >= len(q.h) || q.h[t.heapIndex] != t {
		return
	}
	heap.Remove(&q.h, t.heapIndex)
}

func (q *waitingQueue) len() int { return len(q.h) }

// taskHeap implements container/heap.Interface over *Task, ordered by
// deadline. DeadlineInfinite tasks never enter it (see waitingQueue doc).
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].Deadline() < h[j].Deadline()
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.heapIndex = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*h = old[:n-1]
	return t
}
