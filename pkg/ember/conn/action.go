package conn

import "github.com/yourusername/ember/pkg/ember/proto"

// ActionKind tags what a Handler wants the state machine to do next.
type ActionKind int

const (
	// ActionContinue means keep calling the handler with further body
	// chunks. Returned on the final call (moreBody false), it queues no
	// response: the connection blocks in its current state and the handler
	// is invoked again the next time Idle drives the connection.
	ActionContinue ActionKind = iota
	// ActionQueueResponse attaches a *proto.Response to the request; only
	// valid after the handler's final body-chunk invocation.
	ActionQueueResponse
	// ActionSuspend removes the connection from the reactor's I/O and
	// timeout lists until a later Resume() call.
	ActionSuspend
	// ActionUpgrade hands the raw transport off to an external collaborator
	// (e.g. a WebSocket handshake) and removes the connection from the FSM
	// entirely.
	ActionUpgrade
)

// Action is the tagged value a Handler returns, per spec.md §3.
type Action struct {
	Kind     ActionKind
	Response *proto.Response
	// Upgrade carries the callback to invoke with the raw transport on
	// ActionUpgrade; nil for other kinds.
	Upgrade func(Transport)
}

// QueueResponse builds a queue-response Action.
func QueueResponse(r *proto.Response) Action {
	return Action{Kind: ActionQueueResponse, Response: r}
}

// Suspend builds a suspend Action.
func Suspend() Action { return Action{Kind: ActionSuspend} }

// Continue builds a continue Action.
func Continue() Action { return Action{Kind: ActionContinue} }

// UpgradeTo builds an upgrade Action.
func UpgradeTo(fn func(Transport)) Action {
	return Action{Kind: ActionUpgrade, Upgrade: fn}
}

// Handler is the request-handler callback. It is invoked once at
// HEADERS_PROCESSED with body == nil, and again after each body chunk
// becomes available; moreBody indicates whether more chunks follow.
type Handler func(r *proto.Request, body []byte, moreBody bool) Action

// Transport is the pluggable receive/transmit capability object standing
// in for the C source's function-pointer recv/send swap (plaintext, TLS,
// or a post-upgrade passthrough).
type Transport interface {
	// Recv reads into dst, returning n > 0 on data, 0 on peer-close, and a
	// non-nil error otherwise. A net.Error with Timeout() == true signals
	// would-block; the reactor treats that as "not ready" rather than a
	// failure.
	Recv(dst []byte) (n int, err error)
	// Send writes from src, symmetric to Recv.
	Send(src []byte) (n int, err error)
	// Close releases the underlying transport.
	Close() error
}
