// Package transport provides the pluggable Recv/Send capability objects the
// conn package's Transport interface expects: plain TCP, TLS, and
// post-upgrade WebSocket passthrough. Grounded on the teacher's
// tls/cert.go (certificate lifecycle) and websocket/upgrade.go (the
// handshake this package's Upgrade wraps), generalized onto
// conn.Transport/reactor.FdTransport instead of the teacher's
// http11.Connection.
package transport

import (
	"net"
)

// Plain wraps a *net.TCPConn as a conn.Transport / reactor.FdTransport. It
// is the default transport the daemon constructs for non-TLS listeners.
type Plain struct {
	conn *net.TCPConn
	fd   int
}

// NewPlain wraps raw, caching its file descriptor once up front (SyscallConn
// is relatively expensive; every reactor.Add/Modify call needs the fd).
func NewPlain(raw net.Conn) (*Plain, error) {
	tcp, ok := raw.(*net.TCPConn)
	if !ok {
		return &Plain{conn: nil}, errNotTCP
	}
	rawConn, err := tcp.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	ctrlErr := rawConn.Control(func(f uintptr) { fd = int(f) })
	if ctrlErr != nil {
		return nil, ctrlErr
	}
	return &Plain{conn: tcp, fd: fd}, nil
}

func (p *Plain) Recv(dst []byte) (int, error) { return p.conn.Read(dst) }
func (p *Plain) Send(src []byte) (int, error) { return p.conn.Write(src) }
func (p *Plain) Close() error                 { return p.conn.Close() }
func (p *Plain) Fd() int                      { return p.fd }

var errNotTCP = plainErr("transport: not a *net.TCPConn")

type plainErr string

func (e plainErr) Error() string { return string(e) }
