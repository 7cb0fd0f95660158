// Package reactor implements the three readiness-multiplexing backends
// (select/poll/epoll) and the reactor's three bookkeeping lists — normal
// I/O, timeout and cleanup. It keeps no epoll-ready list.
// Nothing here is grounded on a teacher file: the pack's example repos
// lean on the stdlib net package's own poller rather than rolling their
// own, so this package is built directly from golang.org/x/sys/unix and
// the spec's reactor description.
package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// Readiness is the direction a backend reports a fd ready for.
type Readiness uint8

const (
	ReadyRead Readiness = 1 << iota
	ReadyWrite
)

// Event pairs an fd with the readiness a Wait call observed for it.
type Event struct {
	Fd        int
	Readiness Readiness
}

// Backend is the minimum surface a readiness multiplexer must provide. The
// three implementations (select/poll/epoll) differ only in how Wait is
// implemented; Reactor is backend-agnostic.
type Backend interface {
	// Add registers fd for the given interest set.
	Add(fd int, interest Readiness) error
	// Modify changes fd's interest set.
	Modify(fd int, interest Readiness) error
	// Remove unregisters fd.
	Remove(fd int) error
	// Wait blocks up to timeout (0 = return immediately, <0 = block
	// indefinitely) and returns the fds that became ready.
	Wait(timeout time.Duration) ([]Event, error)
	// Close releases backend resources (e.g. the epoll fd).
	Close() error
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}

// pollBackend wraps unix.Poll, available on every platform x/sys/unix
// supports; it is the portable fallback when epoll isn't available.
type pollBackend struct {
	interest map[int]Readiness
}

// NewPoll creates a poll(2)-backed Backend.
func NewPoll() Backend {
	return &pollBackend{interest: make(map[int]Readiness)}
}

func (b *pollBackend) Add(fd int, interest Readiness) error {
	b.interest[fd] = interest
	return nil
}

func (b *pollBackend) Modify(fd int, interest Readiness) error {
	b.interest[fd] = interest
	return nil
}

func (b *pollBackend) Remove(fd int) error {
	delete(b.interest, fd)
	return nil
}

func (b *pollBackend) Wait(timeout time.Duration) ([]Event, error) {
	if len(b.interest) == 0 {
		time.Sleep(minDuration(timeout, 10*time.Millisecond))
		return nil, nil
	}
	fds := make([]unix.PollFd, 0, len(b.interest))
	order := make([]int, 0, len(b.interest))
	for fd, want := range b.interest {
		var events int16
		if want&ReadyRead != 0 {
			events |= unix.POLLIN
		}
		if want&ReadyWrite != 0 {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, fd)
	}
	n, err := unix.Poll(fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	events := make([]Event, 0, n)
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		var r Readiness
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			r |= ReadyRead
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			r |= ReadyWrite
		}
		events = append(events, Event{Fd: order[i], Readiness: r})
	}
	return events, nil
}

func (b *pollBackend) Close() error { return nil }

// NewEpollOrPoll picks epoll on Linux, falling back to poll elsewhere —
// the default backend factory a daemon.Config leaves nil.
func NewEpollOrPoll() Backend {
	if b, err := NewEpoll(); err == nil {
		return b
	}
	return NewPoll()
}

func minDuration(a, b time.Duration) time.Duration {
	if a >= 0 && a < b {
		return a
	}
	return b
}
