package proto

import (
	"net/url"

	"github.com/yourusername/ember/pkg/ember/pool"
)

// ChunkState tracks the chunked-body decoder's position within the body
// phase: need-size-line, in-chunk (with remaining bytes of the current
// chunk; the CRLF after its data is consumed in this state too),
// need-trailer-crlf (the trailer section after the zero-size chunk, up to
// its blank line), or done.
type ChunkState uint8

const (
	ChunkNeedSizeLine ChunkState = iota
	ChunkInChunk
	ChunkNeedTrailerCRLF
	ChunkDone
)

// Request is per-HTTP-transaction state: method, URL, version, the parsed
// header chain, body bookkeeping, and the handler-visible flags from
// spec.md §3. All byte slices referencing request-line or header bytes are
// zero-copy views into the connection's pool.Arena-backed read buffer and
// are only valid until the next Reset.
type Request struct {
	MethodID uint8

	methodBytes []byte
	pathBytes   []byte
	queryBytes  []byte

	ProtoMajor int
	ProtoMinor int

	parsedURL *url.URL

	Header Header

	// ContentLength is -1 if unknown (chunked or absent-and-bodyless),
	// else the declared byte count.
	ContentLength int64

	HaveChunkedUpload bool
	ChunkState        ChunkState
	ChunkRemaining    int64 // bytes left in the current chunk
	RemainingUpload   int64 // bytes left overall for Content-Length framing

	// Close mirrors the client's half of the keep-alive decision: true if
	// "Connection: close" was present, or the request is HTTP/1.0 without
	// "Connection: keep-alive".
	Close bool

	Expect100Continue bool

	RemoteAddr string

	// Parse scratch for an incomplete header line and the offset of its
	// separating colon. ParseHeaders rescans the whole buffer on every call
	// and never fills these; Reset clears them.
	PartialLine  []byte
	PartialColon int

	// ClientContext is the opaque value an early-URI logger may attach;
	// surfaced back to the handler and notify-connection callback.
	ClientContext any

	getArgsDone bool

	arena *pool.Arena
}

// NewRequest allocates a Request whose transient byte data will be drawn
// from arena. The Request struct itself is owned by the Connection and
// reused across keep-alive transactions via Reset.
func NewRequest(arena *pool.Arena) *Request {
	return &Request{arena: arena, ContentLength: -1}
}

// Method returns the HTTP method name, "" for an unrecognized extension
// method (MethodUnknown).
func (r *Request) Method() string { return MethodString(r.MethodID) }

// MethodBytes is a zero-copy view of the method token.
func (r *Request) MethodBytes() []byte { return r.methodBytes }

// Path returns the request path, allocating a string.
func (r *Request) Path() string { return string(r.pathBytes) }

// PathBytes is a zero-copy view of the path.
func (r *Request) PathBytes() []byte { return r.pathBytes }

// Query returns the raw query string (without '?'), allocating a string.
func (r *Request) Query() string { return string(r.queryBytes) }

// QueryBytes is a zero-copy view of the query string.
func (r *Request) QueryBytes() []byte { return r.queryBytes }

// ParsedURL lazily parses path+query into a *url.URL, caching the result.
func (r *Request) ParsedURL() (*url.URL, error) {
	if r.parsedURL != nil {
		return r.parsedURL, nil
	}
	raw := string(r.pathBytes)
	if len(r.queryBytes) > 0 {
		raw += "?" + string(r.queryBytes)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	r.parsedURL = u
	return u, nil
}

// GetArg looks up a GET-argument by name. The first call on a given
// Request triggers lazy tokenization of the query string into
// KindGetArg header entries (spec.md §4.2); subsequent calls are O(n)
// chain lookups with no further allocation of the tokenizer state.
func (r *Request) GetArg(unescape func([]byte) []byte, name string) (string, bool) {
	r.ensureGetArgs(unescape)
	v := r.Header.GetKind(KindGetArg, []byte(name))
	if v == nil {
		return "", false
	}
	return string(v), true
}

func (r *Request) ensureGetArgs(unescape func([]byte) []byte) {
	if r.getArgsDone {
		return
	}
	r.getArgsDone = true
	if len(r.queryBytes) == 0 {
		return
	}
	start := 0
	q := r.queryBytes
	for i := 0; i <= len(q); i++ {
		if i == len(q) || q[i] == '&' || q[i] == ';' {
			tok := q[start:i]
			if len(tok) > 0 {
				name, value := splitKV(tok)
				if unescape != nil {
					name = unescape(name)
					value = unescape(value)
				}
				r.Header.Add(KindGetArg, name, value)
			}
			start = i + 1
		}
	}
}

func splitKV(tok []byte) (name, value []byte) {
	for i, c := range tok {
		if c == '=' {
			return tok[:i], tok[i+1:]
		}
	}
	return tok, nil
}

// GetHeader is a case-insensitive lookup by name across every entry in the
// chain, whatever its kind; equivalent to Header.Get.
func (r *Request) GetHeader(name []byte) []byte { return r.Header.Get(name) }

// HasHeader reports presence of a header by name.
func (r *Request) HasHeader(name []byte) bool { return r.Header.Has(name) }

// HasBody reports whether the transaction declared a body via
// Content-Length > 0 or chunked transfer-encoding.
func (r *Request) HasBody() bool {
	return r.ContentLength > 0 || r.HaveChunkedUpload
}

// ShouldClose mirrors the client's half of the keep-alive decision.
func (r *Request) ShouldClose() bool { return r.Close }

// Reset clears the Request for reuse on the next keep-alive transaction.
// Byte slices are dropped (not zeroed — the arena reset already
// invalidates the backing memory); this must run after the connection's
// pool.Arena has been reset so no allocation survives across requests.
func (r *Request) Reset() {
	r.MethodID = MethodUnknown
	r.methodBytes = nil
	r.pathBytes = nil
	r.queryBytes = nil
	r.ProtoMajor = 0
	r.ProtoMinor = 0
	r.parsedURL = nil
	r.Header.Reset()
	r.ContentLength = -1
	r.HaveChunkedUpload = false
	r.ChunkState = ChunkNeedSizeLine
	r.ChunkRemaining = 0
	r.RemainingUpload = 0
	r.Close = false
	r.Expect100Continue = false
	r.PartialLine = nil
	r.PartialColon = -1
	r.ClientContext = nil
	r.getArgsDone = false
}
