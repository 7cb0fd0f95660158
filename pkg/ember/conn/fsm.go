package conn

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"time"

	"github.com/yourusername/ember/pkg/ember/proto"
)

// panicInvariant reports a fatal internal-invariant violation via the
// connection's PanicHook (or panic() if none is configured).
func (c *Connection) panicInvariant(reason string) {
	_, file, line, _ := runtime.Caller(1)
	if c.cfg.Panic != nil {
		c.cfg.Panic(file, line, reason)
		return
	}
	panic(fmt.Sprintf("%s:%d: %s", file, line, reason))
}

// readResponseFile materializes a BodyFile response's byte range. The fd is
// an already-open descriptor the application retains ownership of: the
// wrapping *os.File's finalizer is cleared so garbage-collecting it never
// closes the caller's descriptor out from under it.
func readResponseFile(resp *proto.Response) ([]byte, error) {
	fd, offset := resp.File()
	f := os.NewFile(uintptr(fd), "")
	runtime.SetFinalizer(f, nil)
	buf := make([]byte, resp.TotalSize)
	n, err := f.ReadAt(buf, offset)
	if err != nil && n != len(buf) {
		return nil, err
	}
	return buf[:n], nil
}

// Idle advances the FSM as far as possible without blocking on I/O. It is
// the one non-reentrant function the reactor calls on readiness; in_idle
// guards against recursive invocation, matching spec.md §4.4.
func (c *Connection) Idle() {
	if !c.inIdle.CompareAndSwap(false, true) {
		return // re-entrant call short-circuits
	}
	defer c.inIdle.Store(false)

	if c.inCleanup.Load() {
		return
	}

	for {
		progressed, err := c.step()
		if err != nil {
			c.failProtocol(err)
			return
		}
		if c.state == StateClosed || c.state == StateInCleanup {
			return
		}
		if !progressed {
			break
		}
	}
	c.recomputeEventLoopInfo()
}

// step attempts exactly one state transition. progressed == false means
// the connection is blocked on I/O readiness for its current eli and the
// reactor should wait for the next notification.
func (c *Connection) step() (progressed bool, err error) {
	switch c.state {
	case StateInit:
		c.state = StateURLReceived
		return true, nil

	case StateURLReceived, StateHeaderPartReceived:
		return c.stepReadHeaders()

	case StateHeadersReceived:
		decideRequestClose(c)
		c.state = StateHeadersProcessed
		return true, nil

	case StateHeadersProcessed:
		return c.stepInvokeHandler()

	case StateContinueSending:
		return c.stepSendContinue()

	case StateContinueSent:
		return c.invokeHandlerWithBody(nil, c.Request.HasBody())

	case StateBodyReceived, StateFooterPartReceived:
		return c.stepReadBody()

	case StateFootersReceived:
		return c.stepBeginResponse()

	case StateHeadersSending:
		return c.stepSendWriteBuffer(StateHeadersSent)

	case StateHeadersSent:
		return c.stepBeginBody()

	case StateNormalBodyReady:
		return c.stepSendBodyBuffer()

	case StateNormalBodyUnready:
		return c.stepRefillCallbackBody()

	case StateChunkedBodyReady:
		return c.stepSendChunkedBuffer()

	case StateChunkedBodyUnready:
		return c.stepRefillChunkedCallback()

	case StateBodySent:
		c.state = StateFootersSending
		return true, nil

	case StateFootersSending:
		// No footer headers supported on emission in this engine; treat
		// as immediately sent (trailers are an upload-only concept here).
		c.state = StateFootersSent
		return true, nil

	case StateFootersSent:
		return c.stepKeepAliveOrClose()

	case StateClosed:
		c.state = StateInCleanup
		return true, nil

	case StateInCleanup:
		return false, nil
	}
	return false, nil
}

// recv reads from the transport into the read buffer, growing it via the
// arena if needed. Returns false (no progress) on would-block.
func (c *Connection) recv() (bool, error) {
	if cap(c.rb)-c.rbFilled < 1024 {
		if !c.growReadBuffer() {
			return false, proto.ErrPoolExhausted
		}
	}
	n, err := c.Transport.Recv(c.rb[c.rbFilled:cap(c.rb)])
	if n > 0 {
		c.rbFilled += n
		c.LastActivity = time.Now()
		return true, nil
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil // would-block: wait for next readiness
		}
		return false, err
	}
	// n == 0, err == nil: peer closed.
	c.readClosed = true
	return false, proto.ErrConnectionClosed
}

// growReadBuffer implements spec.md §4.4's "Read buffer growth": half the
// remaining pool on first allocation, additive cfg.MemoryIncrement
// (DefaultMemoryIncrement when unset) thereafter via TryExtend.
func (c *Connection) growReadBuffer() bool {
	if c.rb == nil {
		remaining := c.arena.Cap() - c.arena.Used()
		want := remaining / 2
		if want < 4096 {
			want = remaining
		}
		b := c.arena.Alloc(want)
		if b == nil {
			return false
		}
		c.rb = b
		return true
	}
	oldLen := len(c.rb)
	inc := c.cfg.MemoryIncrement
	if inc <= 0 {
		inc = DefaultMemoryIncrement
	}
	newLen := oldLen + inc
	if grown, ok := c.arena.TryExtend(c.rb, oldLen, newLen); ok {
		c.rb = grown
		return true
	}
	return false
}

func (c *Connection) stepReadHeaders() (bool, error) {
	ok, err := c.recv()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	consumed, status, perr := proto.ParseHeaders(c.Request, c.rb[:c.rbFilled], c.cfg.Limits)
	if perr != nil {
		return false, perr
	}
	switch status {
	case proto.ParseNeedMore:
		c.state = StateHeaderPartReceived
		return true, nil
	case proto.ParseHeadersComplete:
		c.rbConsumed = consumed
		c.state = StateHeadersReceived
		return true, nil
	}
	return false, nil
}

func decideRequestClose(c *Connection) {
	// proto.ParseHeaders already set Request.Close from Connection: close
	// or HTTP/1.0-without-keep-alive; fold it into the connection's
	// keep-alive decision (spec.md §4.4).
	if c.Request.Close {
		c.setKeepAlive(KeepAliveClose)
		return
	}
	if c.Request.ProtoMajor == 1 && c.Request.ProtoMinor == 1 {
		c.setKeepAlive(KeepAliveKeep)
		return
	}
	// HTTP/1.0 with explicit keep-alive (Request.Close already false here
	// only when Connection: keep-alive was present).
	c.setKeepAlive(KeepAliveKeep)
}

func (c *Connection) stepInvokeHandler() (bool, error) {
	if c.Request.Expect100Continue && c.state == StateHeadersProcessed {
		c.state = StateContinueSending
		return true, nil
	}
	return c.invokeHandlerWithBody(nil, c.Request.HasBody())
}

func (c *Connection) stepSendContinue() (bool, error) {
	line := []byte("HTTP/1.1 100 Continue\r\n\r\n")
	n, err := c.Transport.Send(line)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	if n < len(line) {
		return false, nil // simplification: assume small writes complete; partials retried next call
	}
	c.state = StateContinueSent
	return true, nil
}

// invokeHandlerWithBody calls the daemon's Handler and applies the
// returned Action.
func (c *Connection) invokeHandlerWithBody(body []byte, more bool) (bool, error) {
	if c.cfg.Handler == nil {
		return false, proto.ErrInvalidHeader
	}
	action := c.cfg.Handler(c.Request, body, more)
	switch action.Kind {
	case ActionQueueResponse:
		c.queueResponse(action.Response)
		return true, nil
	case ActionSuspend:
		c.suspended.Store(true)
		c.eli = EventBlock
		return false, nil
	case ActionUpgrade:
		if action.Upgrade != nil {
			action.Upgrade(c.Transport)
		}
		c.state = StateInCleanup
		return true, nil
	default: // ActionContinue
		if !more {
			// Handler had nothing to queue yet even on the final chunk;
			// block in the current state. The next Idle call runs the same
			// step and invokes the handler again (suspend is the expected
			// path for a handler that needs time).
			c.eli = EventBlock
			return false, nil
		}
		if c.Request.HaveChunkedUpload {
			c.state = StateBodyReceived
		} else {
			c.state = StateBodyReceived
		}
		return true, nil
	}
}

func (c *Connection) stepReadBody() (bool, error) {
	if c.Request.HaveChunkedUpload {
		return c.stepReadChunkedBody()
	}
	return c.stepReadContentLengthBody()
}

func (c *Connection) stepReadContentLengthBody() (bool, error) {
	if c.Request.RemainingUpload == 0 {
		return c.invokeHandlerWithBody(nil, false)
	}
	available := c.rbFilled - c.rbConsumed
	if int64(available) == 0 {
		ok, err := c.recv()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		available = c.rbFilled - c.rbConsumed
	}
	take := c.Request.RemainingUpload
	if int64(available) < take {
		take = int64(available)
	}
	chunk := c.rb[c.rbConsumed : c.rbConsumed+int(take)]
	c.rbConsumed += int(take)
	c.Request.RemainingUpload -= take
	more := c.Request.RemainingUpload > 0
	return c.invokeHandlerWithBody(chunk, more)
}

func (c *Connection) stepReadChunkedBody() (bool, error) {
	available := c.rbFilled - c.rbConsumed
	if available == 0 {
		ok, err := c.recv()
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	var accum []byte
	consumed, done, err := proto.FeedChunkedBody(c.Request, c.rb[c.rbConsumed:c.rbFilled], func(b []byte) {
		accum = append(accum, b...)
	})
	if err != nil {
		return false, err
	}
	c.rbConsumed += consumed
	if len(accum) == 0 && !done {
		return false, nil // need more bytes for even a partial chunk
	}
	return c.invokeHandlerWithBody(accum, !done)
}

func (c *Connection) stepBeginResponse() (bool, error) {
	if c.queuedResponse == nil {
		return false, nil // waiting on a suspended/external queue
	}
	c.buildResponseHeaders()
	c.state = StateHeadersSending
	return true, nil
}

func (c *Connection) buildResponseHeaders() {
	resp := c.queuedResponse
	isHTTP11 := c.Request.ProtoMajor == 1 && c.Request.ProtoMinor == 1

	var dst []byte
	dst = proto.WriteStatusLine(dst, c.Request.ProtoMajor, c.Request.ProtoMinor, resp.StatusCode)

	dst = append(dst, "Date: "...)
	dst = append(dst, time.Now().UTC().Format(time.RFC1123)...)
	dst = append(dst, "\r\n"...)

	chunked := resp.IsChunked(isHTTP11)
	if chunked {
		dst = append(dst, "Transfer-Encoding: chunked\r\n"...)
	} else if resp.TotalSize >= 0 {
		dst = append(dst, "Content-Length: "...)
		dst = appendInt(dst, resp.TotalSize)
		dst = append(dst, "\r\n"...)
	} else {
		// Unknown size on HTTP/1.0: framing is connection-close.
		c.setKeepAlive(KeepAliveClose)
	}

	if c.keepAlive == KeepAliveClose {
		dst = append(dst, "Connection: close\r\n"...)
	} else if !isHTTP11 {
		dst = append(dst, "Connection: keep-alive\r\n"...)
	}

	dst = proto.WriteHeaderBlock(dst, &resp.Header)
	dst = append(dst, "\r\n"...)

	c.wb = dst
	c.sendOffset = 0
}

func appendInt(dst []byte, n int64) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	return append(dst, tmp[i:]...)
}

func (c *Connection) stepSendWriteBuffer(next State) (bool, error) {
	if c.sendOffset >= len(c.wb) {
		c.state = next
		return true, nil
	}
	n, err := c.Transport.Send(c.wb[c.sendOffset:])
	if n > 0 {
		c.sendOffset += n
		if c.sendOffset >= len(c.wb) {
			c.state = next
		}
		return true, nil
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	return false, nil
}

func (c *Connection) stepBeginBody() (bool, error) {
	resp := c.queuedResponse
	isHTTP11 := c.Request.ProtoMajor == 1 && c.Request.ProtoMinor == 1

	if c.Request.MethodID == proto.MethodHEAD {
		c.state = StateBodySent
		return true, nil
	}

	switch resp.BodyKind() {
	case proto.BodyBuffer:
		c.wb = resp.Buffer()
		c.sendOffset = 0
		c.state = StateNormalBodyReady
	case proto.BodyFile:
		buf, err := readResponseFile(resp)
		if err != nil {
			return false, err
		}
		c.wb = buf
		c.sendOffset = 0
		c.state = StateNormalBodyReady
	case proto.BodyCallback:
		if resp.IsChunked(isHTTP11) {
			c.state = StateChunkedBodyUnready
		} else {
			c.state = StateNormalBodyUnready
		}
	default:
		c.panicInvariant(fmt.Sprintf("unknown response body kind %d", resp.BodyKind()))
	}
	return true, nil
}

func (c *Connection) stepSendBodyBuffer() (bool, error) {
	if c.sendOffset >= len(c.wb) {
		c.state = StateBodySent
		return true, nil
	}
	n, err := c.Transport.Send(c.wb[c.sendOffset:])
	if n > 0 {
		c.sendOffset += n
		return true, nil
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	return false, nil
}

func (c *Connection) stepRefillCallbackBody() (bool, error) {
	buf, eof, err := c.queuedResponse.FillCallback()
	if err != nil {
		return false, err
	}
	if eof {
		c.state = StateBodySent
		return true, nil
	}
	c.wb = buf
	c.sendOffset = 0
	c.state = StateNormalBodyReady
	return true, nil
}

func (c *Connection) stepSendChunkedBuffer() (bool, error) {
	if c.sendOffset >= len(c.wb) {
		c.state = StateChunkedBodyUnready
		return true, nil
	}
	n, err := c.Transport.Send(c.wb[c.sendOffset:])
	if n > 0 {
		c.sendOffset += n
		return true, nil
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return false, nil
		}
		return false, err
	}
	return false, nil
}

func (c *Connection) stepRefillChunkedCallback() (bool, error) {
	buf, eof, err := c.queuedResponse.FillCallback()
	if err != nil {
		return false, err
	}
	var frame []byte
	if eof {
		frame = append(frame, "0\r\n\r\n"...)
		c.wb = frame
		c.sendOffset = 0
		c.state = StateBodySent // final frame transmitted by stepSendWriteBuffer below
		return c.stepSendWriteBuffer(StateBodySent)
	}
	frame = appendHex(frame, len(buf))
	frame = append(frame, "\r\n"...)
	frame = append(frame, buf...)
	frame = append(frame, "\r\n"...)
	c.wb = frame
	c.sendOffset = 0
	c.state = StateChunkedBodyReady
	return true, nil
}

func appendHex(dst []byte, n int) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	const digits = "0123456789abcdef"
	var tmp [16]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = digits[n&0xf]
		n >>= 4
	}
	return append(dst, tmp[i:]...)
}

func (c *Connection) stepKeepAliveOrClose() (bool, error) {
	c.requestsServed++
	reason := proto.ReasonCompleted
	if c.queuedResponse != nil {
		c.queuedResponse.Release(reason)
		if c.cfg.TerminationCallback != nil {
			c.cfg.TerminationCallback(c.queuedResponse, reason)
		}
		c.queuedResponse = nil
	}

	maxReached := c.cfg.MaxRequestsPerConn > 0 && c.requestsServed >= c.cfg.MaxRequestsPerConn
	if maxReached {
		c.setKeepAlive(KeepAliveClose)
	}

	if c.keepAlive == KeepAliveClose || c.readClosed {
		c.state = StateClosed
		c.eli = EventCleanup
		return true, nil
	}

	c.resetForKeepAlive()
	return true, nil
}

// protocolErrorStatus maps a parser/FSM error to the status code spec.md
// §4.2/§8 names for it: 413 for a body/pool that can't fit, 414 for a
// request line too long to hold, 431 for headers a pool of this size can
// never accommodate, 400 for everything else.
func protocolErrorStatus(err error) int {
	switch err {
	case proto.ErrRequestLineTooLarge, proto.ErrURITooLong:
		return 414
	case proto.ErrHeadersTooLarge, proto.ErrTooManyHeaders, proto.ErrHeaderTooLarge:
		return 431
	case proto.ErrPoolExhausted:
		return 413
	default:
		return 400
	}
}

// failProtocol builds a synthetic error response bypassing the handler,
// per spec.md §4.2's error policy, then forces must-close.
func (c *Connection) failProtocol(err error) {
	resp := proto.FromBuffer(protocolErrorStatus(err), []byte(err.Error()))
	resp.MustClose = true
	c.setKeepAlive(KeepAliveClose)
	resp.Retain()
	resp.MarkQueued()
	c.queuedResponse = resp
	c.buildResponseHeaders()
	c.state = StateHeadersSending
	c.eli = EventWrite
}

// recomputeEventLoopInfo derives the reactor-facing readiness declaration
// from the current state, per spec.md §4.4.
func (c *Connection) recomputeEventLoopInfo() {
	switch c.state {
	case StateClosed, StateInCleanup:
		c.eli = EventCleanup
	case StateURLReceived, StateHeaderPartReceived, StateBodyReceived, StateFooterPartReceived:
		c.eli = EventRead
	case StateContinueSending, StateHeadersSending, StateNormalBodyReady, StateChunkedBodyReady, StateFootersSending:
		c.eli = EventWrite
	case StateNormalBodyUnready, StateChunkedBodyUnready:
		c.eli = EventBlock
	default:
		if c.suspended.Load() {
			c.eli = EventBlock
		} else {
			c.eli = EventRead
		}
	}
}
