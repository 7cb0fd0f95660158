package proto

// HeaderKind tags a header node with which part of the transaction it
// belongs to. A single chain carries all of them — request headers,
// response headers, parsed cookies, trailers, and lazily-split URL/form
// arguments all share the same insertion-ordered representation.
type HeaderKind uint8

const (
	KindRequest HeaderKind = iota
	KindResponse
	KindCookie
	KindFooter
	KindGetArg
	KindPostArg
)

func (k HeaderKind) String() string {
	switch k {
	case KindRequest:
		return "request-header"
	case KindResponse:
		return "response-header"
	case KindCookie:
		return "cookie"
	case KindFooter:
		return "footer"
	case KindGetArg:
		return "get-argument"
	case KindPostArg:
		return "post-argument"
	default:
		return "unknown"
	}
}

// headerNode is one (kind, name, value) triple in the chain. name and
// value are typically zero-copy slices into a pool.Arena-backed read
// buffer; Header.Add never copies unless the caller passes its own slice.
type headerNode struct {
	kind  HeaderKind
	name  []byte
	value []byte
	next  *headerNode
}

// Header is an insertion-ordered singly-linked chain of header triples.
// Name comparisons are case-insensitive per RFC 7230; values are compared
// and stored verbatim. The zero value is an empty chain ready to use.
type Header struct {
	head *headerNode
	tail *headerNode
	n    int
}

// Add appends a new (kind, name, value) entry. Duplicate names are
// preserved as separate entries — callers needing "the" value use Get,
// which returns the first match.
func (h *Header) Add(kind HeaderKind, name, value []byte) {
	node := &headerNode{kind: kind, name: name, value: value}
	if h.tail == nil {
		h.head = node
		h.tail = node
	} else {
		h.tail.next = node
		h.tail = node
	}
	h.n++
}

// AddRequest is shorthand for Add(KindRequest, name, value).
func (h *Header) AddRequest(name, value []byte) { h.Add(KindRequest, name, value) }

// AddResponse is shorthand for Add(KindResponse, name, value).
func (h *Header) AddResponse(name, value []byte) { h.Add(KindResponse, name, value) }

// Get returns the value of the first entry (of any kind) whose name
// matches case-insensitively, or nil if absent.
func (h *Header) Get(name []byte) []byte {
	for n := h.head; n != nil; n = n.next {
		if equalFold(n.name, name) {
			return n.value
		}
	}
	return nil
}

// GetKind is like Get but restricted to entries of the given kind — used
// to fetch e.g. only cookies or only footers.
func (h *Header) GetKind(kind HeaderKind, name []byte) []byte {
	for n := h.head; n != nil; n = n.next {
		if n.kind == kind && equalFold(n.name, name) {
			return n.value
		}
	}
	return nil
}

// GetString is a convenience wrapper that allocates a string for name
// lookup and for the returned value.
func (h *Header) GetString(name string) string {
	v := h.Get([]byte(name))
	if v == nil {
		return ""
	}
	return string(v)
}

// Has reports whether any entry matches name case-insensitively.
func (h *Header) Has(name []byte) bool {
	return h.Get(name) != nil
}

// HasToken reports whether a comma/space separated header value (e.g.
// Connection or Transfer-Encoding) contains token, compared
// case-insensitively. Used for "Connection: close" and "chunked" checks.
func (h *Header) HasToken(name, token []byte) bool {
	for n := h.head; n != nil; n = n.next {
		if !equalFold(n.name, name) {
			continue
		}
		if containsToken(n.value, token) {
			return true
		}
	}
	return false
}

// Len returns the total number of entries across all kinds.
func (h *Header) Len() int { return h.n }

// Reset empties the chain. Nodes are ordinary Go heap allocations; Reset
// only drops the references to them so the garbage collector can reclaim
// them.
func (h *Header) Reset() {
	h.head = nil
	h.tail = nil
	h.n = 0
}

// VisitAll calls fn for every entry in insertion order. fn returning
// false stops iteration early.
func (h *Header) VisitAll(fn func(kind HeaderKind, name, value []byte) bool) {
	for n := h.head; n != nil; n = n.next {
		if !fn(n.kind, n.name, n.value) {
			return
		}
	}
}

// VisitKind is like VisitAll but restricted to one kind.
func (h *Header) VisitKind(kind HeaderKind, fn func(name, value []byte) bool) {
	for n := h.head; n != nil; n = n.next {
		if n.kind != kind {
			continue
		}
		if !fn(n.name, n.value) {
			return
		}
	}
}

// Reversed returns a new chain with entries in reverse insertion order.
// proto.Response does not use it: response headers are appended in
// insertion order and emitted as they stand. The original chain is
// unmodified.
func (h *Header) Reversed() *Header {
	out := &Header{}
	nodes := make([]*headerNode, 0, h.n)
	for n := h.head; n != nil; n = n.next {
		nodes = append(nodes, n)
	}
	for i := len(nodes) - 1; i >= 0; i-- {
		out.Add(nodes[i].kind, nodes[i].name, nodes[i].value)
	}
	return out
}

func toLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

func equalFold(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if toLower(a[i]) != toLower(b[i]) {
			return false
		}
	}
	return true
}

// containsToken reports whether value contains token as a comma-separated,
// whitespace-trimmed element, compared case-insensitively. Matches the way
// "Connection: keep-alive, Upgrade" or "Transfer-Encoding: gzip, chunked"
// are evaluated.
func containsToken(value, token []byte) bool {
	start := 0
	for i := 0; i <= len(value); i++ {
		if i == len(value) || value[i] == ',' {
			part := trimSpace(value[start:i])
			if equalFold(part, token) {
				return true
			}
			start = i + 1
		}
	}
	return false
}

func trimSpace(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	for j > i && (b[j-1] == ' ' || b[j-1] == '\t') {
		j--
	}
	return b[i:j]
}
