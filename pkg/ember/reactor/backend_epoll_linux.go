//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollBackend wraps an epoll instance. Unlike select/poll it keeps its
// interest set in the kernel rather than rebuilding it on every Wait call.
// It registers fds level-triggered and keeps no per-fd added/read-ready/
// write-ready bits of its own.
type epollBackend struct {
	epfd   int
	events []unix.EpollEvent
}

// NewEpoll creates an epoll(7)-backed Backend. Linux only.
func NewEpoll() (Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollBackend{epfd: fd, events: make([]unix.EpollEvent, 256)}, nil
}

func toEpollEvents(interest Readiness) uint32 {
	var ev uint32
	if interest&ReadyRead != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&ReadyWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (b *epollBackend) Add(fd int, interest Readiness) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (b *epollBackend) Modify(fd int, interest Readiness) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpollEvents(interest),
		Fd:     int32(fd),
	})
}

func (b *epollBackend) Remove(fd int) error {
	return unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (b *epollBackend) Wait(timeout time.Duration) ([]Event, error) {
	n, err := unix.EpollWait(b.epfd, b.events, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := b.events[i]
		var r Readiness
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			r |= ReadyRead
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r |= ReadyWrite
		}
		out = append(out, Event{Fd: int(ev.Fd), Readiness: r})
	}
	return out, nil
}

func (b *epollBackend) Close() error {
	return unix.Close(b.epfd)
}
