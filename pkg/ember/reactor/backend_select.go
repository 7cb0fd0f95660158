//go:build linux

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

// selectBackend wraps unix.Select; kept for parity with spec.md's three
// named backends even though poll/epoll scale better past FD_SETSIZE.
type selectBackend struct {
	interest map[int]Readiness
}

// NewSelect creates a select(2)-backed Backend. Callers should prefer
// NewPoll or NewEpoll for anything beyond a small connection count —
// unix.FdSet is fixed-size (FD_SETSIZE, typically 1024).
func NewSelect() Backend {
	return &selectBackend{interest: make(map[int]Readiness)}
}

func (b *selectBackend) Add(fd int, interest Readiness) error {
	b.interest[fd] = interest
	return nil
}

func (b *selectBackend) Modify(fd int, interest Readiness) error {
	b.interest[fd] = interest
	return nil
}

func (b *selectBackend) Remove(fd int) error {
	delete(b.interest, fd)
	return nil
}

func (b *selectBackend) Wait(timeout time.Duration) ([]Event, error) {
	if len(b.interest) == 0 {
		time.Sleep(minDuration(timeout, 10*time.Millisecond))
		return nil, nil
	}

	var readFDs, writeFDs unix.FdSet
	maxFd := 0
	for fd, want := range b.interest {
		if fd >= unix.FD_SETSIZE {
			continue // spec.md's select backend accepts this ceiling as a known limitation
		}
		if want&ReadyRead != 0 {
			fdSet(&readFDs, fd)
		}
		if want&ReadyWrite != 0 {
			fdSet(&writeFDs, fd)
		}
		if fd > maxFd {
			maxFd = fd
		}
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(maxFd+1, &readFDs, &writeFDs, nil, tv)
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
	for fd := range b.interest {
		if fd >= unix.FD_SETSIZE {
			continue
		}
		var r Readiness
		if fdIsSet(&readFDs, fd) {
			r |= ReadyRead
		}
		if fdIsSet(&writeFDs, fd) {
			r |= ReadyWrite
		}
		if r != 0 {
			events = append(events, Event{Fd: fd, Readiness: r})
		}
	}
	return events, nil
}

func (b *selectBackend) Close() error { return nil }

func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
