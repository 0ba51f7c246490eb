// Package scheduler implements a cooperative, multi-worker task scheduler:
// a fixed pool of goroutines dispatches a dynamic population of Tasks,
// honoring per-task deadlines, explicit wake-ups, and a one-shot signal.
//
// The scheduling role — the logical "dispatcher" — migrates between
// workers via an atomic flag rather than living on a dedicated goroutine.
// At most one worker holds the role at a time; the rest execute whatever
// has already been made ready. A task moves through four states —
// Pending, Waiting, Ready, Signaled — driven entirely by atomic
// compare-and-swap, so producers, workers, and the role holder never
// block on each other for task bookkeeping.
//
// The io.go/poller_*.go files add a socket-aware extension: an IOTask
// additionally owns one kernel descriptor, and kernel readiness events
// (currently: Linux epoll) feed the same Waiting→Ready transition that
// deadlines and wakes do.
package scheduler
