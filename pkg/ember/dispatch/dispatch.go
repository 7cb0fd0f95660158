// Package dispatch implements spec.md §4.6's four concurrency strategies
// for driving connections: externally-driven, a single internal reactor
// goroutine, one goroutine per connection, and a fixed worker pool. The
// thread-per-connection mode is grounded directly on the teacher's
// server_shockwave.go accept loop (one goroutine per net.Conn, blocking
// Serve-style loop); the others are builds on top of pkg/ember/reactor.
package dispatch

import (
	"net"
	"sync"

	"github.com/yourusername/ember/pkg/ember/conn"
	"github.com/yourusername/ember/pkg/ember/pool"
	"github.com/yourusername/ember/pkg/ember/reactor"
)

// Mode selects which concurrency strategy Dispatcher.Run uses.
type Mode int

const (
	// ModeExternal never spawns anything: the caller owns a *reactor.Reactor
	// (or drives *conn.Connection.Idle directly) and calls Dispatcher only
	// to build connections. Used when embedding ember inside a larger
	// existing event loop.
	ModeExternal Mode = iota
	// ModeSingleReactor runs exactly one reactor.Reactor.Run on the calling
	// goroutine.
	ModeSingleReactor
	// ModeThreadPerConnection spawns one goroutine per accepted connection,
	// each blocking on its own Recv/Send calls — the teacher's original
	// server_shockwave.go model, generalized to the new Transport/Handler
	// boundary instead of the http11 package's io.ReadWriter loop.
	ModeThreadPerConnection
	// ModeThreadPool accepts onto a fixed ring of worker goroutines, each
	// running its own reactor.Reactor instance over a disjoint connection
	// subset — round-robin assignment at accept time.
	ModeThreadPool
)

// Config configures a Dispatcher.
type Config struct {
	Mode       Mode
	Backend    func() reactor.Backend // factory; called once per worker
	Workers    int                    // ModeThreadPool only; 0 defaults to 4
	ReactorCfg reactor.Config         // NewTransport here is used by every mode, including ModeThreadPerConnection
}

// Dispatcher owns the accept-to-reactor wiring for every mode except
// ModeExternal.
type Dispatcher struct {
	cfg      Config
	listener net.Listener

	wg        sync.WaitGroup
	reactors  []*reactor.Reactor
	done      chan struct{}
}

// New builds a Dispatcher bound to an already-listening socket.
func New(listener net.Listener, cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg, listener: listener, done: make(chan struct{})}
}

// Run blocks until Shutdown is called or an unrecoverable accept error
// occurs.
func (d *Dispatcher) Run() error {
	switch d.cfg.Mode {
	case ModeSingleReactor:
		return d.runSingleReactor()
	case ModeThreadPool:
		return d.runThreadPool()
	case ModeThreadPerConnection:
		return d.runThreadPerConnection()
	default:
		return nil // ModeExternal: caller drives everything
	}
}

// Shutdown stops every reactor/goroutine this Dispatcher owns.
func (d *Dispatcher) Shutdown() {
	close(d.done)
	for _, r := range d.reactors {
		r.Shutdown()
	}
	d.listener.Close()
	d.wg.Wait()
}

func (d *Dispatcher) runSingleReactor() error {
	backend := d.cfg.Backend()
	r, err := reactor.New(backend, d.listener, d.cfg.ReactorCfg)
	if err != nil {
		return err
	}
	d.reactors = append(d.reactors, r)
	return r.Run()
}

// runThreadPool implements spec.md §4.6's thread-pool mode: one designated
// acceptor goroutine owns Accept() on the shared listener and hands each
// connection to the next worker in a fixed ring round-robin, over each
// worker reactor's own ITC queue (reactor.Reactor.Adopt/Post) — no worker
// ever touches the listening fd itself.
func (d *Dispatcher) runThreadPool() error {
	workers := d.cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		backend := d.cfg.Backend()
		r := reactor.NewWorker(backend, d.cfg.ReactorCfg)
		d.reactors = append(d.reactors, r)
		d.wg.Add(1)
		go func(r *reactor.Reactor) {
			defer d.wg.Done()
			errCh <- r.Run()
		}(r)
	}

	d.wg.Add(1)
	go d.runAcceptor(workers)

	return <-errCh
}

// runAcceptor is the designated-acceptor goroutine: it never parses a
// byte, it only Accepts and round-robins.
func (d *Dispatcher) runAcceptor(workers int) {
	defer d.wg.Done()
	next := 0
	for {
		raw, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.done:
				return
			default:
				continue
			}
		}
		d.reactors[next].Adopt(raw)
		next = (next + 1) % workers
	}
}

// runThreadPerConnection is grounded on server_shockwave.go's
// ShockwaveServer.Serve/handleConnection: accept in a loop, spawn a
// goroutine per connection that blocks on its own I/O until the FSM
// reaches StateInCleanup.
func (d *Dispatcher) runThreadPerConnection() error {
	for {
		raw, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.done:
				return nil
			default:
				continue
			}
		}
		if d.cfg.ReactorCfg.AcceptPolicy != nil && !d.cfg.ReactorCfg.AcceptPolicy(raw.RemoteAddr()) {
			raw.Close()
			continue
		}
		d.wg.Add(1)
		go d.serveOne(raw)
	}
}

func (d *Dispatcher) serveOne(raw net.Conn) {
	defer d.wg.Done()
	defer raw.Close()

	transport, err := d.cfg.ReactorCfg.NewTransport(raw)
	if err != nil {
		return
	}
	arena := pool.New(16 * 1024)
	if d.cfg.ReactorCfg.ArenaSize > 0 {
		arena = pool.New(d.cfg.ReactorCfg.ArenaSize)
	}
	c := conn.New(transport, raw.RemoteAddr(), arena, d.cfg.ReactorCfg.ConnConfig)

	for {
		c.Idle()
		switch c.State() {
		case conn.StateInCleanup:
			c.Cleanup()
			return
		}
		if c.State() != conn.StateClosed {
			// Blocking transports (plain TCP without a deadline) rely on
			// Recv/Send themselves blocking inside Idle's step; nothing
			// further to wait on here before looping.
			continue
		}
	}
}
