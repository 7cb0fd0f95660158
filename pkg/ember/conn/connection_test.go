package conn

import (
	"bytes"
	"testing"

	"github.com/yourusername/ember/pkg/ember/pool"
	"github.com/yourusername/ember/pkg/ember/proto"
)

// fakeTransport is a synchronous, in-memory Transport: reads drain an input
// buffer and report would-block (a net.Error with Timeout() == true) once
// exhausted; writes append to an output buffer. It lets the FSM tests drive
// Idle() deterministically without real sockets or goroutines.
type fakeTransport struct {
	in           []byte
	inOff        int
	out          bytes.Buffer
	closed       bool
	closedByPeer bool
}

type wouldBlockErr struct{}

func (wouldBlockErr) Error() string   { return "would block" }
func (wouldBlockErr) Timeout() bool   { return true }
func (wouldBlockErr) Temporary() bool { return true }

func (f *fakeTransport) Recv(dst []byte) (int, error) {
	if f.inOff >= len(f.in) {
		if f.closedByPeer {
			return 0, nil
		}
		return 0, wouldBlockErr{}
	}
	n := copy(dst, f.in[f.inOff:])
	f.inOff += n
	return n, nil
}

func (f *fakeTransport) Send(src []byte) (int, error) {
	return f.out.Write(src)
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newTestConnection(t *testing.T, handler Handler, input string) (*Connection, *fakeTransport) {
	t.Helper()
	return newTestConnectionWithLimits(t, handler, input, proto.DefaultLimits())
}

func newTestConnectionWithLimits(t *testing.T, handler Handler, input string, limits proto.Limits) (*Connection, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{in: []byte(input)}
	arena := pool.New(64 * 1024)
	cfg := Config{
		Handler: handler,
		Limits:  limits,
	}
	c := New(tr, nil, arena, cfg)
	return c, tr
}

func echoOKHandler(r *proto.Request, body []byte, more bool) Action {
	if more {
		return Continue()
	}
	return QueueResponse(proto.FromBuffer(200, []byte("hello")))
}

func TestGETKeepAliveReuse(t *testing.T) {
	req := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: example.com\r\n\r\n"
	c, tr := newTestConnection(t, echoOKHandler, req)

	for i := 0; i < 200 && c.RequestsServed() < 2 && c.state != StateClosed; i++ {
		c.Idle()
	}

	if tr.out.Len() == 0 {
		t.Fatal("expected response bytes written")
	}
	if bytes.Count(tr.out.Bytes(), []byte("HTTP/1.1 200 OK")) < 1 {
		t.Fatalf("expected at least one 200 response, got %q", tr.out.String())
	}
	if c.RequestsServed() < 1 {
		t.Fatalf("RequestsServed = %d, want >= 1", c.RequestsServed())
	}
}

func TestClientConnectionCloseOverridesKeepAlive(t *testing.T) {
	req := "GET /a HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"
	c, tr := newTestConnection(t, echoOKHandler, req)

	for i := 0; i < 200 && c.state != StateClosed; i++ {
		c.Idle()
	}

	if c.keepAlive != KeepAliveClose {
		t.Fatalf("keepAlive = %v, want KeepAliveClose", c.keepAlive)
	}
	if c.state != StateClosed {
		t.Fatalf("state = %v, want StateClosed", c.state)
	}
	_ = tr
}

func TestServerMustCloseOverridesKeepAlive(t *testing.T) {
	req := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n"
	handler := func(r *proto.Request, body []byte, more bool) Action {
		if more {
			return Continue()
		}
		resp := proto.FromBuffer(200, []byte("bye"))
		resp.MustClose = true
		return QueueResponse(resp)
	}
	c, _ := newTestConnection(t, handler, req)

	for i := 0; i < 200 && c.state != StateClosed; i++ {
		c.Idle()
	}

	if c.keepAlive != KeepAliveClose {
		t.Fatalf("keepAlive = %v, want KeepAliveClose", c.keepAlive)
	}
}

func TestChunkedUploadAccumulatesBody(t *testing.T) {
	req := "POST /up HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"

	var gotBody []byte
	handler := func(r *proto.Request, body []byte, more bool) Action {
		gotBody = append(gotBody, body...)
		if more {
			return Continue()
		}
		return QueueResponse(proto.FromBuffer(200, []byte("ok")))
	}
	c, tr := newTestConnection(t, handler, req)

	for i := 0; i < 200 && c.state != StateClosed && c.RequestsServed() < 1; i++ {
		c.Idle()
	}

	if string(gotBody) != "hello" {
		t.Fatalf("accumulated body = %q, want %q", gotBody, "hello")
	}
	if !bytes.Contains(tr.out.Bytes(), []byte("200")) {
		t.Fatalf("expected 200 response, got %q", tr.out.String())
	}
}

func TestSuspendBlocksEventLoopInfo(t *testing.T) {
	req := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n"
	handler := func(r *proto.Request, body []byte, more bool) Action {
		if more {
			return Continue()
		}
		return Suspend()
	}
	c, _ := newTestConnection(t, handler, req)

	for i := 0; i < 50 && !c.Suspended(); i++ {
		c.Idle()
	}

	if !c.Suspended() {
		t.Fatal("expected connection to be suspended")
	}
	if c.EventLoopInfo() != EventBlock {
		t.Fatalf("EventLoopInfo = %v, want EventBlock", c.EventLoopInfo())
	}

	c.Resume()
	c.AckResumed()
	if c.Suspended() {
		t.Fatal("expected Suspended() == false after ackResumed")
	}
}

func TestMalformedRequestLineForces400AndClose(t *testing.T) {
	req := "GARBAGE\r\n\r\n"
	c, tr := newTestConnection(t, echoOKHandler, req)

	for i := 0; i < 200 && c.state != StateClosed; i++ {
		c.Idle()
	}

	if !bytes.Contains(tr.out.Bytes(), []byte("400")) {
		t.Fatalf("expected 400 response, got %q", tr.out.String())
	}
	if c.keepAlive != KeepAliveClose {
		t.Fatalf("keepAlive = %v, want KeepAliveClose after protocol error", c.keepAlive)
	}
}

func TestOversizedRequestLineForces414(t *testing.T) {
	req := "GET /" + string(bytes.Repeat([]byte("a"), 100)) + " HTTP/1.1\r\nHost: x\r\n\r\n"
	limits := proto.Limits{MaxRequestLineSize: 16, MaxHeadersSize: 8192, MaxHeaderCount: 100}
	c, tr := newTestConnectionWithLimits(t, echoOKHandler, req, limits)

	for i := 0; i < 200 && c.state != StateClosed; i++ {
		c.Idle()
	}

	if !bytes.Contains(tr.out.Bytes(), []byte("414")) {
		t.Fatalf("expected 414 response, got %q", tr.out.String())
	}
	if c.keepAlive != KeepAliveClose {
		t.Fatalf("keepAlive = %v, want KeepAliveClose after protocol error", c.keepAlive)
	}
}

func TestOversizedHeadersForce431(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: x\r\nX-Big: " + string(bytes.Repeat([]byte("a"), 100)) + "\r\n\r\n"
	limits := proto.Limits{MaxRequestLineSize: 8192, MaxHeadersSize: 32, MaxHeaderCount: 100}
	c, tr := newTestConnectionWithLimits(t, echoOKHandler, req, limits)

	for i := 0; i < 200 && c.state != StateClosed; i++ {
		c.Idle()
	}

	if !bytes.Contains(tr.out.Bytes(), []byte("431")) {
		t.Fatalf("expected 431 response, got %q", tr.out.String())
	}
	if c.keepAlive != KeepAliveClose {
		t.Fatalf("keepAlive = %v, want KeepAliveClose after protocol error", c.keepAlive)
	}
}

func TestPanicHookReceivesInvariantViolations(t *testing.T) {
	req := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n"
	tr := &fakeTransport{in: []byte(req)}
	arena := pool.New(64 * 1024)

	var gotReason string
	cfg := Config{
		Handler: echoOKHandler,
		Limits:  proto.DefaultLimits(),
		Panic: func(file string, line int, reason string) {
			gotReason = reason
		},
	}
	c := New(tr, nil, arena, cfg)

	c.panicInvariant("test invariant")
	if gotReason != "test invariant" {
		t.Fatalf("Panic hook reason = %q, want %q", gotReason, "test invariant")
	}
}

// TestKeepAliveThenClientClose reproduces original_source/test_get_close_keep_alive.c:
// a client reuses one keep-alive connection for a first request, then sends a
// second request line and closes the socket mid-request (before headers
// complete) instead of finishing it. The first response must still have gone
// out over the reused connection, and the abrupt close on the second request
// must land the connection in StateClosed rather than hang waiting for more
// bytes that will never arrive.
func TestKeepAliveThenClientClose(t *testing.T) {
	req := "GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n" +
		"GET /b HTTP/1.1\r\nHost: ex"
	c, tr := newTestConnection(t, echoOKHandler, req)

	for i := 0; i < 200 && c.RequestsServed() < 1; i++ {
		c.Idle()
	}
	if !bytes.Contains(tr.out.Bytes(), []byte("HTTP/1.1 200 OK")) {
		t.Fatalf("expected first keep-alive response, got %q", tr.out.String())
	}

	tr.closedByPeer = true
	for i := 0; i < 200 && c.state != StateClosed; i++ {
		c.Idle()
	}
	if c.state != StateClosed {
		t.Fatalf("state = %v, want StateClosed after client closed mid-request", c.state)
	}
}
