package conn

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/ember/pkg/ember/pool"
	"github.com/yourusername/ember/pkg/ember/proto"
)

// PanicHook is called when the FSM hits a fatal internal-invariant
// violation — something that can only mean a bug in this package, never a
// malformed request — matching MHD_PANIC from the original C source's
// internal.h. file/line identify the call site; reason describes the
// violated invariant. A nil hook panics.
type PanicHook func(file string, line int, reason string)

// Config tunes a single Connection's protocol-level behavior — bits a
// daemon.Config assembles once and passes down to every accepted
// connection.
type Config struct {
	Handler             Handler
	MemoryPoolSize      int
	MemoryIncrement     int
	Timeout             time.Duration
	MaxRequestsPerConn  int32 // 0 = unlimited
	Limits              proto.Limits
	Unescape            func([]byte) []byte
	NotifyConnection    func(c *Connection, event string)
	TerminationCallback func(r *proto.Response, reason proto.TerminationReason)
	Panic               PanicHook
}

// Connection owns one Request, one transport, and the FSM that drives
// them. Exactly one goroutine touches a Connection at a time (enforced by
// inIdle); the reactor or a dispatch worker calls Idle() whenever the
// transport becomes ready for the direction EventLoopInfo() declares.
type Connection struct {
	ID string

	Transport  Transport
	RemoteAddr net.Addr

	arena   *pool.Arena
	Request *proto.Request

	cfg Config

	state     State
	eli       EventLoopInfo
	keepAlive KeepAlive

	inIdle    atomic.Bool
	inCleanup atomic.Bool
	suspended atomic.Bool
	resuming  atomic.Bool
	readClosed bool

	LastActivity time.Time

	requestsServed int32

	// Read-side buffering: rb holds everything received since the last
	// Reset, rbFilled is the valid prefix length, rbConsumed is how much
	// the parser/chunk-decoder has already accounted for.
	rb        []byte
	rbFilled  int
	rbConsumed int

	// Write-side buffering: wb holds the serialized status line + headers
	// (and, for buffer/file bodies, the body itself); sendOffset is how
	// much has been transmitted so far.
	wb         []byte
	sendOffset int

	queuedResponse *proto.Response
	uploadDone     bool // true once the final (zero-length) handler call has fired

	// bodyAccum is not filled by the FSM, which hands body bytes to the
	// handler without accumulating them; resetForKeepAlive clears it.
	bodyAccum []byte

	// Body emission state for callback-sourced responses.
	bodyCallbackBuf []byte
	bodyCallbackEOF bool

	termReason proto.TerminationReason

	// DLL membership pointers, exported so the reactor package can thread
	// connections through its I/O, timeout and cleanup lists without a
	// second indirection layer. Only the reactor mutates these; it never
	// links EpollPrev/EpollNext.
	IOPrev, IONext         *Connection
	TOPrev, TONext         *Connection
	CleanupPrev, CleanupNext *Connection
	EpollPrev, EpollNext   *Connection
}

// New creates a Connection ready to begin parsing its first request.
func New(t Transport, remote net.Addr, arena *pool.Arena, cfg Config) *Connection {
	c := &Connection{
		ID:           uuid.NewString(),
		Transport:    t,
		RemoteAddr:   remote,
		arena:        arena,
		cfg:          cfg,
		state:        StateInit,
		eli:          EventRead,
		keepAlive:    KeepAliveUnknown,
		LastActivity: time.Now(),
	}
	c.Request = proto.NewRequest(arena)
	if cfg.NotifyConnection != nil {
		cfg.NotifyConnection(c, "started")
	}
	return c
}

// State returns the current FSM state.
func (c *Connection) State() State { return c.state }

// EventLoopInfo returns which readiness the reactor should currently poll
// for on this connection's socket.
func (c *Connection) EventLoopInfo() EventLoopInfo { return c.eli }

// Suspended reports whether the connection has been removed from the
// reactor's lists pending an explicit Resume().
func (c *Connection) Suspended() bool { return c.suspended.Load() }

// Resuming reports whether Resume() has been called and the reactor still
// needs to re-link the connection.
func (c *Connection) Resuming() bool { return c.resuming.Load() }

// Resume is safe to call from any goroutine; it only flips a flag. It does
// not wake the reactor: the reactor notices the flag on its next loop
// iteration (sweepResuming) and re-links the connection
// (spec.md §4.4 "Suspend/resume").
func (c *Connection) Resume() {
	c.resuming.Store(true)
}

// AckResumed is called by the reactor once it has re-linked a resuming
// connection into its lists.
func (c *Connection) AckResumed() {
	c.suspended.Store(false)
	c.resuming.Store(false)
}

// setKeepAlive applies the monotonicity invariant: once must-close, no
// later call may raise the decision back to keep-alive.
func (c *Connection) setKeepAlive(k KeepAlive) {
	if c.keepAlive == KeepAliveClose {
		return
	}
	c.keepAlive = k
}

// queueResponse attaches a response to the current request and moves the
// FSM to FOOTERS_RECEIVED. invokeHandlerWithBody calls it when a Handler
// returns ActionQueueResponse.
func (c *Connection) queueResponse(r *proto.Response) {
	r.Retain()
	r.MarkQueued()
	if r.MustClose {
		c.setKeepAlive(KeepAliveClose)
	}
	c.queuedResponse = r
	c.state = StateFootersReceived
}

// resetForKeepAlive implements spec.md §4.4's "Keep-alive reset": pool
// reset, Request zeroed except for the connection back-reference, state
// back to INIT, last-activity refreshed.
func (c *Connection) resetForKeepAlive() {
	c.arena.Reset()
	c.Request.Reset()
	c.rb = nil
	c.rbFilled = 0
	c.rbConsumed = 0
	c.wb = nil
	c.sendOffset = 0
	c.queuedResponse = nil
	c.uploadDone = false
	c.bodyAccum = nil
	c.bodyCallbackBuf = nil
	c.bodyCallbackEOF = false
	c.keepAlive = KeepAliveUnknown
	c.state = StateInit
	c.eli = EventRead
	c.LastActivity = time.Now()
}

// Close forces the connection toward CLOSED with the given reason. It does
// not release the queued response; Cleanup does that.
func (c *Connection) Close(reason proto.TerminationReason) {
	c.termReason = reason
	c.state = StateClosed
	c.eli = EventCleanup
}

// Cleanup runs once, from the reactor's cleanup sweep: closes the
// transport, releases the arena, retires the queued response, and invokes
// the termination callback. A second reentry guard independent of inIdle,
// per spec.md §11's open-question resolution.
func (c *Connection) Cleanup() {
	if !c.inCleanup.CompareAndSwap(false, true) {
		return
	}
	c.state = StateInCleanup
	if c.Transport != nil {
		c.Transport.Close()
	}
	if c.queuedResponse != nil {
		c.queuedResponse.Release(c.termReason)
		if c.cfg.TerminationCallback != nil {
			c.cfg.TerminationCallback(c.queuedResponse, c.termReason)
		}
		c.queuedResponse = nil
	}
	if c.arena != nil {
		c.arena.Release()
		c.arena = nil
	}
	if c.cfg.NotifyConnection != nil {
		c.cfg.NotifyConnection(c, "closed")
	}
}

// RequestsServed returns how many requests this connection has completed.
func (c *Connection) RequestsServed() int32 { return c.requestsServed }
