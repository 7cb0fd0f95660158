// Package proto implements the HTTP/1.0 and HTTP/1.1 wire protocol: the
// header chain, request and response models, the incremental parser, and
// the chunked transfer-encoding codec. All allocation for a single
// transaction is drawn from the connection's pool.Arena.
package proto

// Method IDs, kept numeric for O(1) dispatch in hot paths.
const (
	MethodUnknown uint8 = iota
	MethodGET
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodPATCH
	MethodHEAD
	MethodOPTIONS
	MethodCONNECT
	MethodTRACE
)

var methodNames = [...]string{
	MethodUnknown: "",
	MethodGET:     "GET",
	MethodPOST:    "POST",
	MethodPUT:     "PUT",
	MethodDELETE:  "DELETE",
	MethodPATCH:   "PATCH",
	MethodHEAD:    "HEAD",
	MethodOPTIONS: "OPTIONS",
	MethodCONNECT: "CONNECT",
	MethodTRACE:   "TRACE",
}

// MethodString returns the canonical name for a method ID, or "" for
// MethodUnknown.
func MethodString(id uint8) string {
	if int(id) >= len(methodNames) {
		return ""
	}
	return methodNames[id]
}

// ParseMethodID maps a request-line method token to its numeric ID. An
// unrecognized token yields MethodUnknown — the parser still accepts it
// (RFC 7230 allows extension methods) but the handler sees Method() == "".
func ParseMethodID(b []byte) uint8 {
	switch string(b) {
	case "GET":
		return MethodGET
	case "POST":
		return MethodPOST
	case "PUT":
		return MethodPUT
	case "DELETE":
		return MethodDELETE
	case "PATCH":
		return MethodPATCH
	case "HEAD":
		return MethodHEAD
	case "OPTIONS":
		return MethodOPTIONS
	case "CONNECT":
		return MethodCONNECT
	case "TRACE":
		return MethodTRACE
	default:
		return MethodUnknown
	}
}

// Protocol version bytes recognized on the request line. Anything else is a
// 400 per spec.
var (
	HTTP10Bytes = []byte("HTTP/1.0")
	HTTP11Bytes = []byte("HTTP/1.1")
)

const (
	ProtoHTTP10 = "HTTP/1.0"
	ProtoHTTP11 = "HTTP/1.1"
)

// Well-known header name bytes, used by the parser's special-header
// dispatch to avoid repeated allocation of comparison strings.
var (
	HeaderContentLength    = []byte("Content-Length")
	HeaderContentType      = []byte("Content-Type")
	HeaderConnection       = []byte("Connection")
	HeaderKeepAlive        = []byte("keep-alive")
	HeaderClose            = []byte("close")
	HeaderTransferEncoding = []byte("Transfer-Encoding")
	HeaderChunked          = []byte("chunked")
	HeaderHost             = []byte("Host")
	HeaderExpect           = []byte("Expect")
	Header100Continue      = []byte("100-continue")
	HeaderCookie           = []byte("Cookie")
	HeaderDate             = []byte("Date")
	HeaderServer           = []byte("Server")
	HeaderSetCookie        = []byte("Set-Cookie")
)

var crlf = []byte("\r\n")

// Size limits. These are defaults the daemon's Config may override; the
// parser treats them as hard ceilings that convert into 413/414/431
// responses rather than panics.
const (
	DefaultMaxRequestLineSize = 8192
	DefaultMaxHeadersSize     = 8192
	DefaultMaxHeaderCount     = 100
)
