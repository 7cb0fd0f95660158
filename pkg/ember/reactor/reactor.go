package reactor

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/yourusername/ember/pkg/ember/conn"
	"github.com/yourusername/ember/pkg/ember/pool"
	"github.com/yourusername/ember/pkg/ember/proto"
)

func newArena(size int) *pool.Arena {
	if size <= 0 {
		size = 16 * 1024
	}
	return pool.New(size)
}

// FdTransport is the subset of conn.Transport the reactor needs in order to
// multiplex on a connection's underlying file descriptor. Transports that
// can't expose an fd (e.g. an in-memory test pipe) simply aren't usable
// with a Reactor — they're driven externally instead, per spec.md §4.6's
// "externally-driven" dispatch mode.
type FdTransport interface {
	conn.Transport
	Fd() int
}

// AcceptPolicy gates whether a newly-accepted connection is kept, mirroring
// spec.md §4.5's per-IP/accept-policy gate. Returning false closes the raw
// connection immediately, before any *conn.Connection is built.
type AcceptPolicy func(remote net.Addr) bool

// Config tunes a Reactor's behavior.
type Config struct {
	Timeout      time.Duration // 0 disables idle timeouts
	AcceptPolicy AcceptPolicy
	// NewTransport wraps an accepted net.Conn into an FdTransport (plain or
	// TLS); supplied by the daemon so the reactor stays transport-agnostic.
	NewTransport func(net.Conn) (FdTransport, error)
	ConnConfig   conn.Config
	ArenaSize    int
}

var ErrShutdown = errors.New("reactor: shut down")

// Reactor runs the select/poll/epoll-driven connection multiplexing loop
// described in spec.md §4.5: one normal-I/O list, one timeout list and
// one cleanup list. The backends keep no lists of their own.
type Reactor struct {
	backend  Backend
	listener net.Listener
	listenFd int
	cfg      Config

	mu        sync.Mutex
	byFd      map[int]*conn.Connection
	io        dll
	timeout   dll
	cleanup   dll
	itc       chan func()
	shutdown  bool
}

// New builds a Reactor over an already-listening socket. The listener's fd
// is itself registered for read-readiness so Accept can be driven from the
// same Wait loop as every connection's I/O.
func New(backend Backend, listener net.Listener, cfg Config) (*Reactor, error) {
	tcpLn, ok := listener.(*net.TCPListener)
	if !ok {
		return nil, errors.New("reactor: listener must be *net.TCPListener")
	}
	file, err := tcpLn.File()
	if err != nil {
		return nil, err
	}
	lfd := int(file.Fd())

	r := &Reactor{
		backend:  backend,
		listener: listener,
		listenFd: lfd,
		cfg:      cfg,
		byFd:     make(map[int]*conn.Connection),
		itc:      make(chan func(), 64),
	}
	if err := backend.Add(lfd, ReadyRead); err != nil {
		return nil, err
	}
	return r, nil
}

// NewWorker builds a Reactor with no listener of its own: it never accepts,
// it only serves connections handed to it via Adopt. This is the shape
// dispatch.ModeThreadPool's worker ring uses so a single designated
// acceptor goroutine owns Accept() and round-robins connections out,
// rather than every worker registering the same listening fd.
func NewWorker(backend Backend, cfg Config) *Reactor {
	return &Reactor{
		backend:  backend,
		listenFd: -1,
		cfg:      cfg,
		byFd:     make(map[int]*conn.Connection),
		itc:      make(chan func(), 64),
	}
}

// Post schedules fn to run on the reactor's own goroutine at the next
// iteration — the ITC (inter-thread communication) mechanism spec.md §4.5
// names for waking the reactor from another thread (e.g. Shutdown()).
func (r *Reactor) Post(fn func()) {
	select {
	case r.itc <- fn:
	default:
		// ITC queue full: fn is dropped. Shutdown's wakeup is safe to drop,
		// since Run re-checks the shutdown flag after at most a 1s Wait.
	}
}

// Shutdown stops Run at its next iteration and closes every tracked
// connection with ReasonShutdown.
func (r *Reactor) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
	r.Post(func() {})
}

// Run drives the reactor until Shutdown is called or the backend errors.
func (r *Reactor) Run() error {
	defer r.backend.Close()
	for {
		r.mu.Lock()
		down := r.shutdown
		r.mu.Unlock()
		if down {
			r.shutdownAll()
			return nil
		}

		r.drainITC()

		deadline := r.nextDeadline()
		events, err := r.backend.Wait(deadline)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if ev.Fd == r.listenFd {
				r.acceptLoop()
				continue
			}
			r.mu.Lock()
			c, ok := r.byFd[ev.Fd]
			r.mu.Unlock()
			if !ok {
				continue
			}
			c.Idle()
			r.mu.Lock()
			r.timeout.touchTO(c)
			r.mu.Unlock()
			r.afterIdle(c)
		}

		r.sweepTimeouts()
		r.sweepCleanup()
		r.sweepResuming()
	}
}

// sweepResuming re-links connections a handler called Resume() on from
// another goroutine. Resume() only flips a flag (it may run concurrently
// with the reactor), so the reactor must poll for it rather than rely on
// an event; callers that want lower latency can also Post a no-op to wake
// Wait early. Walks byFd, not r.io — a suspended connection is unlinked
// from both DLLs (see afterIdle) but stays in byFd until it resumes or
// the reactor closes it outright.
func (r *Reactor) sweepResuming() {
	var resuming []*conn.Connection
	r.mu.Lock()
	for _, c := range r.byFd {
		if c.Resuming() {
			resuming = append(resuming, c)
		}
	}
	r.mu.Unlock()
	for _, c := range resuming {
		r.afterIdle(c)
		c.Idle()
		r.afterIdle(c)
	}
}

func (r *Reactor) drainITC() {
	for {
		select {
		case fn := <-r.itc:
			fn()
		default:
			return
		}
	}
}

// nextDeadline computes how long Wait should block: the time until the
// oldest timeout-list entry expires, or a 1s heartbeat with no connections
// so Shutdown/ITC posts are still noticed promptly.
func (r *Reactor) nextDeadline() time.Duration {
	if r.cfg.Timeout <= 0 {
		return time.Second
	}
	r.mu.Lock()
	oldest := r.timeout.head
	r.mu.Unlock()
	if oldest == nil {
		return time.Second
	}
	remaining := r.cfg.Timeout - time.Since(oldest.LastActivity)
	if remaining < 0 {
		return 0
	}
	if remaining > time.Second {
		return time.Second
	}
	return remaining
}

// acceptLoop accepts one connection per listen-fd readiness event.
// net.Listener.Accept blocks instead of reporting would-block, so a second
// call could stall Run; further pending connections keep the listen fd
// readable and are accepted on later Wait cycles.
func (r *Reactor) acceptLoop() {
	raw, err := r.listener.Accept()
	if err != nil {
		return // listener closed
	}
	r.onAccepted(raw)
}

// onAccepted registers one already-accepted net.Conn with this reactor: the
// AcceptPolicy gate, transport wrap, arena allocation, and initial Idle
// drive that both acceptLoop (single-reactor mode)
// and Adopt (the designated-acceptor hand-off dispatch.ModeThreadPool
// uses) share. Must run on the reactor's own goroutine — acceptLoop calls
// it inline from Run; Adopt schedules it via Post.
func (r *Reactor) onAccepted(raw net.Conn) {
	if r.cfg.AcceptPolicy != nil && !r.cfg.AcceptPolicy(raw.RemoteAddr()) {
		raw.Close()
		return
	}
	transport, err := r.cfg.NewTransport(raw)
	if err != nil {
		raw.Close()
		return
	}
	arena := newArena(r.cfg.ArenaSize)
	c := conn.New(transport, raw.RemoteAddr(), arena, r.cfg.ConnConfig)

	fd := transport.Fd()
	r.mu.Lock()
	r.byFd[fd] = c
	r.io.pushIO(c)
	r.timeout.pushTO(c)
	r.mu.Unlock()

	if err := r.backend.Add(fd, readinessFor(c.EventLoopInfo())); err != nil {
		r.retire(c, fd, proto.ReasonError)
		return
	}
	c.Idle() // drive StateInit -> StateURLReceived synchronously
	r.afterIdle(c)
}

// Adopt hands an already-accepted net.Conn to this reactor from another
// goroutine — the designated-acceptor side of dispatch.ModeThreadPool's
// round-robin hand-off, per spec.md §4.6. Registration runs on the
// reactor's own goroutine via Post, so it never races backend/DLL state
// with Run's own iteration. If the ITC queue is full, raw is closed rather
// than dropped unserved.
func (r *Reactor) Adopt(raw net.Conn) {
	select {
	case r.itc <- func() { r.onAccepted(raw) }:
	default:
		raw.Close()
	}
}

// afterIdle re-registers a connection's interest set with the backend (its
// event-loop-info may have changed), or retires it once it reaches
// StateInCleanup.
func (r *Reactor) afterIdle(c *conn.Connection) {
	if c.State() == conn.StateInCleanup {
		ft, ok := c.Transport.(FdTransport)
		if !ok {
			return
		}
		r.retire(c, ft.Fd(), proto.ReasonCompleted)
		return
	}
	if c.Suspended() && !c.Resuming() {
		ft, ok := c.Transport.(FdTransport)
		if ok {
			r.backend.Remove(ft.Fd())
		}
		r.mu.Lock()
		r.io.removeIO(c)
		r.timeout.removeTO(c)
		r.mu.Unlock()
		return
	}
	if c.Resuming() {
		ft, ok := c.Transport.(FdTransport)
		if ok {
			r.backend.Add(ft.Fd(), readinessFor(c.EventLoopInfo()))
		}
		r.mu.Lock()
		r.io.pushIO(c)
		r.timeout.pushTO(c)
		r.mu.Unlock()
		c.AckResumed()
		return
	}
	ft, ok := c.Transport.(FdTransport)
	if !ok {
		return
	}
	r.backend.Modify(ft.Fd(), readinessFor(c.EventLoopInfo()))
}

func (r *Reactor) retire(c *conn.Connection, fd int, reason proto.TerminationReason) {
	r.backend.Remove(fd)
	r.mu.Lock()
	delete(r.byFd, fd)
	r.io.removeIO(c)
	r.timeout.removeTO(c)
	r.cleanup.pushCleanup(c)
	r.mu.Unlock()
	c.Close(reason)
}

func (r *Reactor) sweepTimeouts() {
	if r.cfg.Timeout <= 0 {
		return
	}
	now := time.Now()
	var expired []*conn.Connection
	r.mu.Lock()
	r.timeout.eachTO(func(c *conn.Connection) {
		if now.Sub(c.LastActivity) >= r.cfg.Timeout {
			expired = append(expired, c)
		}
	})
	r.mu.Unlock()
	for _, c := range expired {
		ft, ok := c.Transport.(FdTransport)
		if !ok {
			continue
		}
		r.retire(c, ft.Fd(), proto.ReasonTimeout)
	}
}

func (r *Reactor) sweepCleanup() {
	r.mu.Lock()
	var done []*conn.Connection
	r.cleanup.eachCleanup(func(c *conn.Connection) { done = append(done, c) })
	r.mu.Unlock()
	for _, c := range done {
		c.Cleanup()
		r.mu.Lock()
		r.cleanup.removeCleanup(c)
		r.mu.Unlock()
	}
}

func (r *Reactor) shutdownAll() {
	r.mu.Lock()
	all := make([]*conn.Connection, 0, len(r.byFd))
	for _, c := range r.byFd {
		all = append(all, c)
	}
	r.mu.Unlock()
	for _, c := range all {
		ft, ok := c.Transport.(FdTransport)
		if !ok {
			continue
		}
		r.retire(c, ft.Fd(), proto.ReasonShutdown)
	}
	r.sweepCleanup()
}

func readinessFor(eli conn.EventLoopInfo) Readiness {
	switch eli {
	case conn.EventRead:
		return ReadyRead
	case conn.EventWrite:
		return ReadyWrite
	default:
		return ReadyRead
	}
}
