// Package conn implements the per-connection request/response state
// machine: the twenty-state FSM described in spec.md §4.4, driven by a
// single non-reentrant Idle step that the reactor calls whenever a
// connection's socket becomes ready for the I/O direction its
// event-loop-info currently declares.
package conn

// State is one node of the connection's transaction FSM. Any state may
// jump directly to StateClosed (error, timeout, shutdown); the linear
// successors below are the happy path.
type State int

const (
	StateInit State = iota
	StateURLReceived
	StateHeaderPartReceived // self-loop: a header line arrived split across reads
	StateHeadersReceived
	StateHeadersProcessed
	StateContinueSending // only for Expect: 100-continue
	StateContinueSent
	StateBodyReceived
	StateFooterPartReceived // self-loop: chunked trailer split across reads
	StateFootersReceived
	StateHeadersSending
	StateHeadersSent
	StateNormalBodyReady
	StateNormalBodyUnready
	StateChunkedBodyReady
	StateChunkedBodyUnready
	StateBodySent
	StateFootersSending
	StateFootersSent
	StateClosed
	StateInCleanup
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateURLReceived:
		return "url-received"
	case StateHeaderPartReceived:
		return "header-part-received"
	case StateHeadersReceived:
		return "headers-received"
	case StateHeadersProcessed:
		return "headers-processed"
	case StateContinueSending:
		return "continue-sending"
	case StateContinueSent:
		return "continue-sent"
	case StateBodyReceived:
		return "body-received"
	case StateFooterPartReceived:
		return "footer-part-received"
	case StateFootersReceived:
		return "footers-received"
	case StateHeadersSending:
		return "headers-sending"
	case StateHeadersSent:
		return "headers-sent"
	case StateNormalBodyReady:
		return "normal-body-ready"
	case StateNormalBodyUnready:
		return "normal-body-unready"
	case StateChunkedBodyReady:
		return "chunked-body-ready"
	case StateChunkedBodyUnready:
		return "chunked-body-unready"
	case StateBodySent:
		return "body-sent"
	case StateFootersSending:
		return "footers-sending"
	case StateFootersSent:
		return "footers-sent"
	case StateClosed:
		return "closed"
	case StateInCleanup:
		return "in-cleanup"
	default:
		return "unknown"
	}
}

// EventLoopInfo is the connection's declaration of which I/O readiness it
// next requires; the reactor polls exactly this.
type EventLoopInfo int

const (
	EventRead EventLoopInfo = iota
	EventWrite
	EventBlock // waiting on something other than this socket (e.g. suspended, or streaming callback running)
	EventCleanup
)

func (e EventLoopInfo) String() string {
	switch e {
	case EventRead:
		return "read"
	case EventWrite:
		return "write"
	case EventBlock:
		return "block"
	case EventCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// KeepAlive mirrors the MHD_ConnKeepAlive enum (MHD_CONN_MUST_CLOSE /
// MHD_CONN_KEEPALIVE_UNKOWN / MHD_CONN_USE_KEEPALIVE) from the original C
// source. Once set to KeepAliveClose it is never un-set; see setKeepAlive.
type KeepAlive int

const (
	KeepAliveClose   KeepAlive = -1
	KeepAliveUnknown KeepAlive = 0
	KeepAliveKeep    KeepAlive = 1
)

// DefaultMemoryIncrement is MHD_BUF_INC_SIZE from the original C source:
// the minimum size by which the read buffer grows when a header doesn't
// fit the space allocated so far.
const DefaultMemoryIncrement = 1024
