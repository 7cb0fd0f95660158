// Package daemon is ember's embeddable public API: a host builds a
// Config, registers a Handler, and calls Start. Everything below this
// package (conn, reactor, dispatch, transport, socket) is wiring the host
// never has to touch directly. Grounded on the teacher's
// server/server.go (Config/Stats/BaseServer/Shutdown shape), generalized
// from the teacher's http11.Connection model onto conn.Connection's FSM.
package daemon

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/yourusername/ember/pkg/ember/conn"
	"github.com/yourusername/ember/pkg/ember/dispatch"
	"github.com/yourusername/ember/pkg/ember/logx"
	"github.com/yourusername/ember/pkg/ember/proto"
	"github.com/yourusername/ember/pkg/ember/reactor"
	"github.com/yourusername/ember/pkg/ember/socket"
	"github.com/yourusername/ember/pkg/ember/transport"
)

// NotifyEvent tags why NotifyConnection fired.
type NotifyEvent string

const (
	NotifyConnectionStarted NotifyEvent = "started"
	NotifyConnectionClosed  NotifyEvent = "closed"
)

// EarlyURILogger is the type of Config.EarlyURILogger, modelled on
// MHD_OPTION_URI_LOG_CALLBACK. The daemon stores it but never invokes it,
// and Request.ClientContext is never set from it.
type EarlyURILogger func(rawURI string) (ctx any)

// AcceptPolicy gates a newly-accepted connection by remote address.
type AcceptPolicy func(remote net.Addr) bool

// PanicHook is the one place a fatal internal-invariant violation escapes
// non-locally, matching MHD_PANIC from the original C source's
// internal.h. The default panics.
type PanicHook func(file string, line int, reason string)

// Config configures a Daemon. Validated with struct tags at New via
// go-playground/validator/v10, the same library the wider pack reaches
// for on config structs.
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":8080".
	Addr string `validate:"required"`

	// Handler is the request callback every connection's FSM invokes.
	Handler conn.Handler `validate:"required"`

	Mode    dispatch.Mode `validate:"gte=0,lte=3"`
	Workers int           `validate:"gte=0"`

	ReadTimeout time.Duration `validate:"gte=0"`
	IdleTimeout time.Duration `validate:"gte=0"`

	MaxRequestsPerConn int32 `validate:"gte=0"`
	MaxConnections     int   `validate:"gte=0"`
	MaxPerIP           int32 `validate:"gte=0"`

	Limits proto.Limits `validate:"-"`

	MemoryPoolSize  int `validate:"gte=0"`
	MemoryIncrement int `validate:"gte=0"`

	TLSConfig    *tls.Config   `validate:"-"`
	SocketConfig *socket.Config `validate:"-"`

	AcceptPolicy        AcceptPolicy                                          `validate:"-"`
	EarlyURILogger      EarlyURILogger                                       `validate:"-"`
	NotifyConnection    func(c *conn.Connection, event NotifyEvent)          `validate:"-"`
	TerminationCallback func(r *proto.Response, reason proto.TerminationReason) `validate:"-"`
	Unescape            func([]byte) []byte                                 `validate:"-"`

	Logger logx.Logger `validate:"-"`
	Panic  PanicHook    `validate:"-"`

	// Backend picks the reactor readiness multiplexer; nil defaults to
	// epoll on Linux and poll elsewhere (see reactor.NewEpollOrPoll).
	Backend func() reactor.Backend `validate:"-"`
}

// DefaultConfig mirrors the teacher's DefaultConfig: sane timeouts,
// unlimited connections, single-reactor dispatch.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		Mode:               dispatch.ModeSingleReactor,
		ReadTimeout:        60 * time.Second,
		IdleTimeout:        120 * time.Second,
		MaxRequestsPerConn: 0,
		MaxConnections:     0,
		MaxPerIP:           0,
		Limits:             proto.DefaultLimits(),
		MemoryPoolSize:     16 * 1024,
		MemoryIncrement:    conn.DefaultMemoryIncrement,
		SocketConfig:       socket.DefaultConfig(),
		Logger:             logx.Discard(),
	}
}

// Stats mirrors the teacher's atomic-counter Stats struct, extended with a
// RejectedPerIP counter. It holds no per-IP map itself.
type Stats struct {
	TotalConnections  atomic.Uint64
	ActiveConnections atomic.Int64
	TotalRequests     atomic.Uint64
	ConnectionErrors  atomic.Uint64
	RequestErrors     atomic.Uint64
	RejectedPerIP     atomic.Uint64
	StartTime         time.Time
}

func (s *Stats) Duration() time.Duration { return time.Since(s.StartTime) }

func (s *Stats) RequestsPerSecond() float64 {
	d := s.Duration().Seconds()
	if d == 0 {
		return 0
	}
	return float64(s.TotalRequests.Load()) / d
}

// Daemon owns one listener and the dispatcher driving every accepted
// connection's FSM. Config is immutable after Start, per spec.md §5.
type Daemon struct {
	cfg      Config
	listener net.Listener
	dispatch *dispatch.Dispatcher
	stats    Stats
	log      logx.Logger

	mu       sync.Mutex
	ipCounts map[string]int32

	runErr chan error
}

// New validates cfg and returns a Daemon ready for Start.
func New(cfg Config) (*Daemon, error) {
	if cfg.Logger == nil {
		cfg.Logger = logx.Discard()
	}
	if cfg.Limits == (proto.Limits{}) {
		cfg.Limits = proto.DefaultLimits()
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("daemon: invalid config: %w", err)
	}
	d := &Daemon{
		cfg:      cfg,
		log:      cfg.Logger,
		ipCounts: make(map[string]int32),
		runErr:   make(chan error, 1),
	}
	d.stats.StartTime = time.Now()
	return d, nil
}

// Stats returns a pointer to the daemon's live counters.
func (d *Daemon) Stats() *Stats { return &d.stats }

// Start opens the listener, applies socket tuning, and begins dispatching
// connections in a background goroutine. It returns once the listener is
// open; Run errors surface later via Wait.
func (d *Daemon) Start() error {
	ln, err := net.Listen("tcp", d.cfg.Addr)
	if err != nil {
		return err
	}
	if d.cfg.SocketConfig != nil {
		if err := socket.ApplyListener(ln, d.cfg.SocketConfig); err != nil {
			d.log.Warnf("socket: listener tuning failed", "err", err)
		}
	}
	d.listener = ln

	backend := d.cfg.Backend
	if backend == nil {
		backend = reactor.NewEpollOrPoll
	}

	dcfg := dispatch.Config{
		Mode:    d.cfg.Mode,
		Backend: backend,
		Workers: d.cfg.Workers,
		ReactorCfg: reactor.Config{
			Timeout:      d.cfg.IdleTimeout,
			AcceptPolicy: d.gatedAcceptPolicy(),
			NewTransport: d.buildTransport,
			ConnConfig:   d.connConfig(),
			ArenaSize:    d.cfg.MemoryPoolSize,
		},
	}
	d.dispatch = dispatch.New(ln, dcfg)

	if d.cfg.Mode == dispatch.ModeExternal {
		return nil
	}

	go func() {
		d.runErr <- d.dispatch.Run()
	}()
	return nil
}

// Dispatcher exposes the underlying dispatcher for ModeExternal callers
// that want to drive Reactor.Run themselves.
func (d *Daemon) Dispatcher() *dispatch.Dispatcher { return d.dispatch }

// Listener exposes the bound listener, primarily for ModeExternal.
func (d *Daemon) Listener() net.Listener { return d.listener }

// Wait blocks until the dispatcher's Run returns (Stop was called or an
// unrecoverable accept error occurred).
func (d *Daemon) Wait() error {
	return <-d.runErr
}

// Stop shuts the dispatcher and listener down. Context cancellation has
// no effect here — ember's reactor loops already drain promptly once
// Shutdown is observed, unlike the teacher's connection-wait variant that
// needed a deadline escape hatch.
func (d *Daemon) Stop(_ context.Context) error {
	if d.dispatch != nil {
		d.dispatch.Shutdown()
	}
	return nil
}

func (d *Daemon) connConfig() conn.Config {
	return conn.Config{
		Handler:             d.cfg.Handler,
		MemoryPoolSize:      d.cfg.MemoryPoolSize,
		MemoryIncrement:     d.cfg.MemoryIncrement,
		Timeout:             d.cfg.ReadTimeout,
		MaxRequestsPerConn:  d.cfg.MaxRequestsPerConn,
		Limits:              d.cfg.Limits,
		Unescape:            d.cfg.Unescape,
		NotifyConnection:    d.notifyConnection,
		TerminationCallback: d.terminationCallback,
		Panic:               conn.PanicHook(d.cfg.Panic),
	}
}

func (d *Daemon) notifyConnection(c *conn.Connection, event string) {
	d.stats.TotalRequests.Add(uint64(c.RequestsServed()))
	if fields, err := logx.Fields("id", c.ID, "remote", c.RemoteAddr, "event", event, "requests", c.RequestsServed()); err == nil {
		d.log.Debugf("connection event", "fields", string(fields))
	}
	if d.cfg.NotifyConnection != nil {
		d.cfg.NotifyConnection(c, NotifyEvent(event))
	}
	if event == string(NotifyConnectionClosed) {
		d.releaseIP(c.RemoteAddr)
		d.stats.ActiveConnections.Add(-1)
	}
}

func (d *Daemon) terminationCallback(r *proto.Response, reason proto.TerminationReason) {
	if reason == proto.ReasonError {
		d.stats.RequestErrors.Add(1)
	}
	if fields, err := logx.Fields("status", r.StatusCode, "reason", reason); err == nil {
		d.log.Debugf("response terminated", "fields", string(fields))
	}
	if d.cfg.TerminationCallback != nil {
		d.cfg.TerminationCallback(r, reason)
	}
}

// gatedAcceptPolicy wraps the host's AcceptPolicy with the per-IP limit
// original_source/internal.h's secondary hash map implements; this is the
// supplemented feature SPEC_FULL.md §10.1 names.
func (d *Daemon) gatedAcceptPolicy() reactor.AcceptPolicy {
	return func(remote net.Addr) bool {
		if d.cfg.AcceptPolicy != nil && !d.cfg.AcceptPolicy(remote) {
			return false
		}
		if d.cfg.MaxPerIP <= 0 {
			d.stats.TotalConnections.Add(1)
			d.stats.ActiveConnections.Add(1)
			return true
		}
		host := hostOf(remote)
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.ipCounts[host] >= d.cfg.MaxPerIP {
			d.stats.RejectedPerIP.Add(1)
			return false
		}
		d.ipCounts[host]++
		d.stats.TotalConnections.Add(1)
		d.stats.ActiveConnections.Add(1)
		return true
	}
}

func (d *Daemon) releaseIP(remote net.Addr) {
	if d.cfg.MaxPerIP <= 0 || remote == nil {
		return
	}
	host := hostOf(remote)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ipCounts[host] > 0 {
		d.ipCounts[host]--
		if d.ipCounts[host] == 0 {
			delete(d.ipCounts, host)
		}
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// buildTransport wraps an accepted net.Conn into the FdTransport a
// Reactor multiplexes on: TLS when TLSConfig is set, plain otherwise.
// Also applies per-connection socket tuning before wrapping.
func (d *Daemon) buildTransport(raw net.Conn) (reactor.FdTransport, error) {
	if d.cfg.SocketConfig != nil {
		if err := socket.Apply(raw, d.cfg.SocketConfig); err != nil {
			d.log.Warnf("socket: connection tuning failed", "err", err)
		}
	}
	if d.cfg.TLSConfig != nil {
		return transport.NewTLS(raw, d.cfg.TLSConfig)
	}
	return transport.NewPlain(raw)
}
