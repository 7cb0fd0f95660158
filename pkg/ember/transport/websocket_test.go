package transport

import (
	"testing"

	"github.com/yourusername/ember/pkg/ember/pool"
	"github.com/yourusername/ember/pkg/ember/proto"
)

func TestAcceptKeyMatchesRFC6455Vector(t *testing.T) {
	// The exact key/accept pair from RFC 6455 §1.3.
	const key = "dGhlIHNhbXBsZSBub25jZQ=="
	const want = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := acceptKey(key); got != want {
		t.Fatalf("acceptKey(%q) = %q, want %q", key, got, want)
	}
}

func parseRequest(t *testing.T, raw []byte) *proto.Request {
	t.Helper()
	req := proto.NewRequest(pool.New(4096))
	consumed, status, err := proto.ParseHeaders(req, raw, proto.DefaultLimits())
	if err != nil || status != proto.ParseHeadersComplete || consumed == 0 {
		t.Fatalf("ParseHeaders: status=%v err=%v consumed=%d", status, err, consumed)
	}
	return req
}

func TestValidHandshakeAcceptsWellFormedRequest(t *testing.T) {
	req := parseRequest(t, []byte("GET /chat HTTP/1.1\r\n"+
		"Host: example.com\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Version: 13\r\n\r\n"))
	if !validHandshake(req) {
		t.Fatal("expected a well-formed websocket upgrade request to validate")
	}
}

func TestValidHandshakeRejectsWrongMethod(t *testing.T) {
	req := parseRequest(t, []byte("POST /chat HTTP/1.1\r\n"+
		"Host: example.com\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Version: 13\r\n\r\n"))
	if validHandshake(req) {
		t.Fatal("expected POST to fail websocket handshake validation")
	}
}

func TestValidHandshakeRejectsBadVersion(t *testing.T) {
	req := parseRequest(t, []byte("GET /chat HTTP/1.1\r\n"+
		"Host: example.com\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Version: 8\r\n\r\n"))
	if validHandshake(req) {
		t.Fatal("expected Sec-WebSocket-Version: 8 to fail validation")
	}
}
