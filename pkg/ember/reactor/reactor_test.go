package reactor

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/yourusername/ember/pkg/ember/conn"
	"github.com/yourusername/ember/pkg/ember/proto"
)

func TestNewRejectsNonTCPListener(t *testing.T) {
	_, err := New(NewPoll(), &fakeListener{}, Config{})
	if err == nil {
		t.Fatal("expected an error for a non-*net.TCPListener listener")
	}
}

type fakeListener struct{}

func (fakeListener) Accept() (net.Conn, error) { return nil, net.ErrClosed }
func (fakeListener) Close() error              { return nil }
func (fakeListener) Addr() net.Addr            { return nil }

type pipeTransport struct {
	c  net.Conn
	fd int
}

func (p *pipeTransport) Recv(dst []byte) (int, error) { return p.c.Read(dst) }
func (p *pipeTransport) Send(src []byte) (int, error) { return p.c.Write(src) }
func (p *pipeTransport) Close() error                 { return p.c.Close() }
func (p *pipeTransport) Fd() int                       { return p.fd }

func echoHandler(r *proto.Request, body []byte, moreBody bool) conn.Action {
	if moreBody {
		return conn.Continue()
	}
	return conn.QueueResponse(proto.FromBuffer(200, []byte("hi")))
}

func TestRunAcceptsAndServesOneConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	tcpLn := ln.(*net.TCPListener)

	var fakeFd int
	r, err := New(NewPoll(), tcpLn, Config{
		ArenaSize: 8 * 1024,
		ConnConfig: conn.Config{
			Handler: echoHandler,
			Limits:  proto.DefaultLimits(),
		},
		NewTransport: func(raw net.Conn) (FdTransport, error) {
			fakeFd++
			tcp := raw.(*net.TCPConn)
			rc, _ := tcp.SyscallConn()
			var fd int
			rc.Control(func(f uintptr) { fd = int(f) })
			return &pipeTransport{c: raw, fd: fd}, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	client, err := net.DialTimeout("tcp", tcpLn.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	if _, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 256)
	n, err := client.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("Read: %v", err)
	}

	r.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

// TestWorkerAdoptServesAdoptedConnection exercises dispatch.ModeThreadPool's
// designated-acceptor hand-off at the reactor level: a worker built with
// NewWorker never accepts anything itself, only serving whatever is handed
// to it via Adopt.
func TestWorkerAdoptServesAdoptedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	r := NewWorker(NewPoll(), Config{
		ArenaSize: 8 * 1024,
		ConnConfig: conn.Config{
			Handler: echoHandler,
			Limits:  proto.DefaultLimits(),
		},
		NewTransport: func(raw net.Conn) (FdTransport, error) {
			tcp := raw.(*net.TCPConn)
			rc, _ := tcp.SyscallConn()
			var fd int
			rc.Control(func(f uintptr) { fd = int(f) })
			return &pipeTransport{c: raw, fd: fd}, nil
		},
	})

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	client, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	client.SetDeadline(time.Now().Add(2 * time.Second))

	accepted, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	r.Adopt(accepted)

	if _, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 256)
	n, err := client.Read(buf)
	if err != nil && n == 0 {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Contains(buf[:n], []byte("200")) {
		t.Fatalf("response = %q, want it to contain 200", buf[:n])
	}

	r.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
