package proto

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// BodySourceKind tags which of the three body source variants a Response
// carries.
type BodySourceKind uint8

const (
	BodyBuffer BodySourceKind = iota
	BodyCallback
	BodyFile
)

// BodyCallbackFn is invoked to refill a streaming response body. Returning
// (0, nil) or (-1, nil) signals end-of-stream; returning a non-nil error forces the
// connection closed (spec.md §4.4 "crc returning -2 ⇒ error").
type BodyCallbackFn func(buf []byte) (n int, err error)

const unknownSize = -1

// Response is a refcounted, shareable response object. It is mutable only
// before its first queuing (header addition, body-source assignment);
// thereafter it is logically immutable except for refcount and, for
// callback-sourced bodies, the internal fill buffer guarded by mu.
type Response struct {
	mu sync.Mutex

	StatusCode int
	Header     Header

	bodyKind BodySourceKind

	// BodyBuffer source.
	buf []byte

	// BodyCallback source.
	cb        BodyCallbackFn
	blockSize int
	fillBuf   []byte
	fillErr   error
	fillEOF   bool

	// BodyFile source.
	fd     int
	offset int64

	// TotalSize is -1 (unknown) when content-length framing cannot be
	// determined up front; this forces chunked (HTTP/1.1) or
	// connection-close (HTTP/1.0) framing.
	TotalSize int64

	HTTP10Only bool

	// MustClose is set only explicitly by the caller (no constructor
	// sets it) and never cleared, per the keep-alive monotonicity
	// invariant.
	MustClose bool

	queued int32 // 0/1, guards against header mutation after first queue

	Termination func(r *Response, reason TerminationReason)

	refcount atomic.Int32
}

// FromBuffer builds a Response whose body is an in-memory buffer of known
// size. The buffer is used as-is (callers wanting copy-on-write semantics
// should copy before constructing).
func FromBuffer(status int, body []byte) *Response {
	r := &Response{StatusCode: status, bodyKind: BodyBuffer, buf: body, TotalSize: int64(len(body))}
	return r
}

// FromCallback builds a Response whose body is produced by repeated calls
// to fn. totalSize may be unknownSize (-1) if not known in advance.
func FromCallback(status int, totalSize int64, blockSize int, fn BodyCallbackFn) *Response {
	if blockSize <= 0 {
		blockSize = 4096
	}
	return &Response{
		StatusCode: status,
		bodyKind:   BodyCallback,
		cb:         fn,
		blockSize:  blockSize,
		TotalSize:  totalSize,
	}
}

// FromFile builds a Response whose body is a slice of an already-open file
// descriptor. The caller retains ownership of fd's lifecycle beyond what
// the transport layer reads.
func FromFile(status int, fd int, offset, size int64) *Response {
	return &Response{StatusCode: status, bodyKind: BodyFile, fd: fd, offset: offset, TotalSize: size}
}

// AddHeader appends a response header. Once the response has been queued
// it is a silent no-op, so all headers must be added before the first
// queue_response call, matching spec.md §4.3's append-only window.
func (r *Response) AddHeader(name, value []byte) {
	if atomic.LoadInt32(&r.queued) != 0 {
		return
	}
	r.Header.AddResponse(name, value)
}

// MarkQueued is called by the FSM the first time this response is
// attached to a request; after this, AddHeader is a no-op.
func (r *Response) MarkQueued() {
	atomic.StoreInt32(&r.queued, 1)
}

// Retain increments the refcount; called when a request or the
// application takes a new reference.
func (r *Response) Retain() {
	r.refcount.Add(1)
}

// Release decrements the refcount; at zero it invokes the termination
// callback (if set). Body-source state is left as it is.
func (r *Response) Release(reason TerminationReason) {
	if r.refcount.Add(-1) == 0 {
		if r.Termination != nil {
			r.Termination(r, reason)
		}
	}
}

// RefCount reports the current reference count, for tests asserting the
// refcount invariant in spec.md §8.
func (r *Response) RefCount() int32 {
	return r.refcount.Load()
}

// BodyKind reports which body-source variant this response carries.
func (r *Response) BodyKind() BodySourceKind { return r.bodyKind }

// Buffer returns the in-memory body buffer (BodyBuffer sources only).
func (r *Response) Buffer() []byte { return r.buf }

// File returns the fd/offset pair (BodyFile sources only).
func (r *Response) File() (fd int, offset int64) { return r.fd, r.offset }

// FillCallback refills fillBuf by invoking the callback once, returning
// the bytes available after the call plus whether end-of-stream was
// reached. Guarded by mu per spec.md §4.3's "mutex" note on streaming
// callback bodies.
func (r *Response) FillCallback() ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fillErr != nil {
		return nil, false, r.fillErr
	}
	if r.fillEOF {
		return nil, true, nil
	}
	if cap(r.fillBuf) < r.blockSize {
		r.fillBuf = make([]byte, r.blockSize)
	}
	n, err := r.cb(r.fillBuf[:r.blockSize])
	if n <= 0 && err == nil {
		r.fillEOF = true
		return nil, true, nil
	}
	if err != nil {
		r.fillErr = err
		return nil, false, err
	}
	return r.fillBuf[:n], false, nil
}

// IsChunked reports whether this response requires chunked framing: size
// unknown and isHTTP11 true. The HTTP10Only field is not consulted.
func (r *Response) IsChunked(isHTTP11 bool) bool {
	return r.TotalSize == unknownSize && isHTTP11
}

// WriteStatusLine appends "HTTP/x.y NNN Reason\r\n" to dst and returns the
// extended slice.
func WriteStatusLine(dst []byte, protoMajor, protoMinor, status int) []byte {
	dst = append(dst, "HTTP/1."...)
	if protoMinor == 0 {
		dst = append(dst, '0')
	} else {
		dst = append(dst, '1')
	}
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, StatusText(status)...)
	dst = append(dst, '\r', '\n')
	return dst
}

var statusText = map[int]string{
	100: "Continue",
	101: "Switching Protocols",
	200: "OK",
	201: "Created",
	202: "Accepted",
	203: "Non-Authoritative Information",
	204: "No Content",
	205: "Reset Content",
	206: "Partial Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	304: "Not Modified",
	307: "Temporary Redirect",
	308: "Permanent Redirect",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	408: "Request Timeout",
	409: "Conflict",
	410: "Gone",
	411: "Length Required",
	412: "Precondition Failed",
	413: "Payload Too Large",
	414: "URI Too Long",
	415: "Unsupported Media Type",
	417: "Expectation Failed",
	429: "Too Many Requests",
	431: "Request Header Fields Too Large",
	500: "Internal Server Error",
	501: "Not Implemented",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

// StatusText returns the reason phrase for a status code, or "Unknown"
// for codes outside the common table.
func StatusText(code int) string {
	if t, ok := statusText[code]; ok {
		return t
	}
	return "Unknown"
}

// WriteHeaderBlock serializes h in insertion order (the order AddHeader
// appended the entries) into dst as "Name: Value\r\n" lines, skipping entries whose kind is not
// emittable on the wire (get/post arguments never are).
func WriteHeaderBlock(dst []byte, h *Header) []byte {
	h.VisitAll(func(kind HeaderKind, name, value []byte) bool {
		if kind == KindGetArg || kind == KindPostArg {
			return true
		}
		dst = append(dst, name...)
		dst = append(dst, ':', ' ')
		dst = append(dst, value...)
		dst = append(dst, '\r', '\n')
		return true
	})
	return dst
}
