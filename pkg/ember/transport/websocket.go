package transport

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net"

	gorilla "github.com/gorilla/websocket"
	"github.com/yourusername/ember/pkg/ember/conn"
	"github.com/yourusername/ember/pkg/ember/proto"
)

// websocketGUID is the RFC 6455 §4.2.2 fixed GUID appended to the
// handshake key before hashing.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	ErrNotWebSocket        = errors.New("transport: not a websocket upgrade request")
	ErrBadWebSocketVersion = errors.New("transport: unsupported Sec-WebSocket-Version")
	ErrBadWebSocketKey     = errors.New("transport: missing or invalid Sec-WebSocket-Key")
)

// Upgrade validates req as an RFC 6455 opening handshake (grounded on the
// teacher's websocket/upgrade.go validation sequence: method, Connection/
// Upgrade tokens, version, key), writes the 101 response over raw, and
// hands the now-upgraded connection to gorilla/websocket's frame codec.
// Returned via an ActionUpgrade callback so the FSM retires the connection
// the moment the handshake response is flushed.
func Upgrade(req *proto.Request, raw net.Conn, onUpgraded func(*gorilla.Conn)) func(conn.Transport) {
	return func(t conn.Transport) {
		if !validHandshake(req) {
			t.Close()
			return
		}
		key := req.GetHeader([]byte("Sec-WebSocket-Key"))
		accept := acceptKey(string(key))

		resp := "HTTP/1.1 101 Switching Protocols\r\n" +
			"Upgrade: websocket\r\n" +
			"Connection: Upgrade\r\n" +
			"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
		if _, err := t.Send([]byte(resp)); err != nil {
			t.Close()
			return
		}

		br := bufio.NewReader(raw)
		ws := gorilla.NewConn(raw, true, 4096, 4096, br, nil, nil)
		if onUpgraded != nil {
			onUpgraded(ws)
		}
	}
}

func validHandshake(req *proto.Request) bool {
	if req.Method() != "GET" {
		return false
	}
	if !req.Header.HasToken([]byte("Connection"), []byte("upgrade")) {
		return false
	}
	if !req.Header.HasToken([]byte("Upgrade"), []byte("websocket")) {
		return false
	}
	if string(req.GetHeader([]byte("Sec-WebSocket-Version"))) != "13" {
		return false
	}
	return len(req.GetHeader([]byte("Sec-WebSocket-Key"))) > 0
}

func acceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
