package dispatch

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/yourusername/ember/pkg/ember/conn"
	"github.com/yourusername/ember/pkg/ember/proto"
	"github.com/yourusername/ember/pkg/ember/reactor"
)

func echoHandler(r *proto.Request, body []byte, moreBody bool) conn.Action {
	if moreBody {
		return conn.Continue()
	}
	return conn.QueueResponse(proto.FromBuffer(200, []byte("ok")))
}

func newTransport(raw net.Conn) (reactor.FdTransport, error) {
	tcp, ok := raw.(*net.TCPConn)
	if !ok {
		return nil, net.ErrClosed
	}
	rc, err := tcp.SyscallConn()
	if err != nil {
		return nil, err
	}
	var fd int
	rc.Control(func(f uintptr) { fd = int(f) })
	return &fdConn{TCPConn: tcp, fd: fd}, nil
}

type fdConn struct {
	*net.TCPConn
	fd int
}

func (f *fdConn) Fd() int { return f.fd }

func baseConfig() Config {
	return Config{
		Backend: func() reactor.Backend { return reactor.NewPoll() },
		ReactorCfg: reactor.Config{
			ConnConfig: conn.Config{
				Handler: echoHandler,
				Limits:  proto.DefaultLimits(),
			},
			NewTransport: newTransport,
			ArenaSize:    8 * 1024,
		},
	}
}

func TestModeExternalRunIsNoop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	cfg := baseConfig()
	cfg.Mode = ModeExternal
	d := New(ln, cfg)
	if err := d.Run(); err != nil {
		t.Fatalf("ModeExternal Run should be a no-op, got %v", err)
	}
}

func TestThreadPerConnectionServesAndShutsDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	cfg := baseConfig()
	cfg.Mode = ModeThreadPerConnection
	d := New(ln, cfg)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	client, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 64)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	client.Close()

	d.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestThreadPoolServesMultipleConnectionsRoundRobin(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	cfg := baseConfig()
	cfg.Mode = ModeThreadPool
	cfg.Workers = 3
	d := New(ln, cfg)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	for i := 0; i < 6; i++ {
		client, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
		if err != nil {
			t.Fatalf("Dial %d: %v", i, err)
		}
		client.SetDeadline(time.Now().Add(2 * time.Second))
		if _, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		buf := make([]byte, 64)
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read %d: %v", i, err)
		}
		if !bytes.Contains(buf[:n], []byte("200")) {
			t.Fatalf("response %d = %q, want it to contain 200", i, buf[:n])
		}
		client.Close()
	}

	d.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestSingleReactorServesOneRequest(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	cfg := baseConfig()
	cfg.Mode = ModeSingleReactor
	d := New(ln, cfg)

	done := make(chan error, 1)
	go func() { done <- d.Run() }()

	client, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, 64)
	if _, err := client.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	client.Close()

	d.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}
