//go:build linux

package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollKernelSource is the Linux KernelSource backend: a readiness-oriented
// epoll instance, directly grounded on the teacher's FastPoller. Unlike
// FastPoller (which dispatches callbacks inline under its own poll loop),
// Drain here just returns the observed events as data — the scheduling pass
// decides what to do with them.
type epollKernelSource struct {
	epfd     int32
	eventBuf [256]unix.EpollEvent

	mu     sync.RWMutex
	tokens map[int32]epollTokenEntry

	closed atomic.Bool
}

type epollTokenEntry struct {
	token    any
	interest IOEventMask
}

// NewEpollKernelSource creates a KernelSource backed by epoll. Pass the
// result to WithKernelSource.
func NewEpollKernelSource() (KernelSource, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollKernelSource{
		epfd:   int32(epfd),
		tokens: make(map[int32]epollTokenEntry),
	}, nil
}

func (p *epollKernelSource) Register(fd int, interest IOEventMask, token any) error {
	if p.closed.Load() {
		return ErrSchedulerStopped
	}
	p.mu.Lock()
	if _, ok := p.tokens[int32(fd)]; ok {
		p.mu.Unlock()
		return ErrDescriptorRegistered
	}
	p.tokens[int32(fd)] = epollTokenEntry{token: token, interest: interest}
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventMaskToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.tokens, int32(fd))
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollKernelSource) Modify(fd int, interest IOEventMask) error {
	p.mu.Lock()
	entry, ok := p.tokens[int32(fd)]
	if !ok {
		p.mu.Unlock()
		return ErrDescriptorNotRegistered
	}
	entry.interest = interest
	p.tokens[int32(fd)] = entry
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: eventMaskToEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollKernelSource) Unregister(fd int) error {
	p.mu.Lock()
	if _, ok := p.tokens[int32(fd)]; !ok {
		p.mu.Unlock()
		return ErrDescriptorNotRegistered
	}
	delete(p.tokens, int32(fd))
	p.mu.Unlock()
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollKernelSource) Drain(timeout time.Duration) ([]KernelEvent, error) {
	if p.closed.Load() {
		return nil, ErrSchedulerStopped
	}
	timeoutMs := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	out := make([]KernelEvent, 0, n)
	p.mu.RLock()
	for i := 0; i < n; i++ {
		fd := p.eventBuf[i].Fd
		entry, ok := p.tokens[fd]
		if !ok {
			continue
		}
		events := epollToEventMask(p.eventBuf[i].Events)
		var kerr error
		if events.has(IOError) {
			kerr = unixErrorForFD(int(fd))
		}
		out = append(out, KernelEvent{Token: entry.token, Events: events, Err: kerr})
	}
	p.mu.RUnlock()
	return out, nil
}

func (p *epollKernelSource) Close() error {
	p.closed.Store(true)
	return unix.Close(int(p.epfd))
}

func eventMaskToEpoll(m IOEventMask) uint32 {
	var out uint32
	if m.has(IOReadable) {
		out |= unix.EPOLLIN
	}
	if m.has(IOWritable) {
		out |= unix.EPOLLOUT
	}
	return out
}

func epollToEventMask(e uint32) IOEventMask {
	var m IOEventMask
	if e&unix.EPOLLIN != 0 {
		m |= IOReadable
	}
	if e&unix.EPOLLOUT != 0 {
		m |= IOWritable
	}
	if e&unix.EPOLLERR != 0 {
		m |= IOError
	}
	if e&unix.EPOLLHUP != 0 {
		m |= IOHangup
	}
	return m
}

// unixErrorForFD resolves SO_ERROR on a socket fd that epoll flagged with
// EPOLLERR, so the KernelEvent carries the operational error as data
// alongside the bare IOError bit.
func unixErrorForFD(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}
