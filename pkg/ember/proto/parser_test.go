package proto

import "testing"

func newTestRequest() *Request {
	return &Request{ContentLength: -1}
}

func TestParseHeadersSimpleGET(t *testing.T) {
	req := newTestRequest()
	buf := []byte("GET /a?x=1 HTTP/1.1\r\nHost: example.com\r\n\r\n")

	consumed, status, err := ParseHeaders(req, buf, DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != ParseHeadersComplete {
		t.Fatalf("status = %v, want ParseHeadersComplete", status)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	if req.Method() != "GET" {
		t.Fatalf("Method = %q", req.Method())
	}
	if req.Path() != "/a" {
		t.Fatalf("Path = %q", req.Path())
	}
	if req.Query() != "x=1" {
		t.Fatalf("Query = %q", req.Query())
	}
}

func TestParseHeadersNeedMoreOnPartialRequestLine(t *testing.T) {
	req := newTestRequest()
	buf := []byte("GET /a HTTP/1")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != ParseNeedMore {
		t.Fatalf("status = %v, want ParseNeedMore", status)
	}
}

func TestParseHeadersSplitAcrossTwoFeeds(t *testing.T) {
	req := newTestRequest()
	part1 := []byte("GET /a HTTP/1.1\r\nHost: exa")
	_, status, err := ParseHeaders(req, part1, DefaultLimits())
	if err != nil || status != ParseNeedMore {
		t.Fatalf("first feed: status=%v err=%v", status, err)
	}

	full := []byte("GET /a HTTP/1.1\r\nHost: example.com\r\n\r\n")
	_, status, err = ParseHeaders(req, full, DefaultLimits())
	if err != nil {
		t.Fatalf("second feed error: %v", err)
	}
	if status != ParseHeadersComplete {
		t.Fatalf("status = %v, want complete", status)
	}
}

func TestParseHeadersRejectsConflictingFraming(t *testing.T) {
	req := newTestRequest()
	buf := []byte("POST /a HTTP/1.1\r\nHost: e\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if status != ParseErr || err != ErrContentLengthWithTransferEncoding {
		t.Fatalf("status=%v err=%v, want smuggling rejection", status, err)
	}
}

func TestParseHeadersRejectsDuplicateConflictingContentLength(t *testing.T) {
	req := newTestRequest()
	buf := []byte("POST /a HTTP/1.1\r\nHost: e\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if status != ParseErr || err != ErrDuplicateContentLength {
		t.Fatalf("status=%v err=%v, want duplicate rejection", status, err)
	}
}

func TestParseHeadersHTTP11RequiresHost(t *testing.T) {
	req := newTestRequest()
	buf := []byte("GET /a HTTP/1.1\r\n\r\n")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if status != ParseErr || err != ErrInvalidHeader {
		t.Fatalf("status=%v err=%v, want missing-Host rejection", status, err)
	}
}

func TestParseHeadersHTTP10DefaultsToClose(t *testing.T) {
	req := newTestRequest()
	buf := []byte("GET /a HTTP/1.0\r\n\r\n")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if err != nil || status != ParseHeadersComplete {
		t.Fatalf("status=%v err=%v", status, err)
	}
	if !req.Close {
		t.Fatal("HTTP/1.0 without Connection: keep-alive must default to close")
	}
}

func TestParseHeadersHTTP10KeepAlive(t *testing.T) {
	req := newTestRequest()
	buf := []byte("GET /a HTTP/1.0\r\nConnection: keep-alive\r\n\r\n")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if err != nil || status != ParseHeadersComplete {
		t.Fatalf("status=%v err=%v", status, err)
	}
	if req.Close {
		t.Fatal("HTTP/1.0 with Connection: keep-alive must not close")
	}
}

func TestParseHeadersHeaderContinuation(t *testing.T) {
	req := newTestRequest()
	buf := []byte("GET /a HTTP/1.1\r\nHost: e\r\nX-Long: one\r\n two\r\n\r\n")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if err != nil || status != ParseHeadersComplete {
		t.Fatalf("status=%v err=%v", status, err)
	}
	if v := req.Header.GetString("X-Long"); v != "one two" {
		t.Fatalf("X-Long = %q, want %q", v, "one two")
	}
}

func TestParseHeadersBareLF(t *testing.T) {
	req := newTestRequest()
	buf := []byte("GET /a HTTP/1.0\n\n")

	_, status, err := ParseHeaders(req, buf, DefaultLimits())
	if err != nil || status != ParseHeadersComplete {
		t.Fatalf("status=%v err=%v, bare LF should be accepted", status, err)
	}
}

func TestFeedChunkedBodyRoundTrip(t *testing.T) {
	req := newTestRequest()
	req.HaveChunkedUpload = true
	req.ChunkState = ChunkNeedSizeLine

	buf := []byte("5\r\nHello\r\n6\r\n World\r\n0\r\n\r\n")
	var got []byte
	consumed, done, err := FeedChunkedBody(req, buf, func(b []byte) { got = append(got, b...) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatal("expected chunked body fully consumed")
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
	if string(got) != "Hello World" {
		t.Fatalf("body = %q, want %q", got, "Hello World")
	}
}

func TestFeedChunkedBodyPartialChunk(t *testing.T) {
	req := newTestRequest()
	req.HaveChunkedUpload = true
	req.ChunkState = ChunkNeedSizeLine

	buf := []byte("5\r\nHel")
	var got []byte
	_, done, err := FeedChunkedBody(req, buf, func(b []byte) { got = append(got, b...) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatal("should not be done with a partial chunk")
	}
	if string(got) != "Hel" {
		t.Fatalf("partial body = %q", got)
	}
}
