package ws

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/indigo-web/gate/config"
	"github.com/indigo-web/gate/event"
	"github.com/indigo-web/gate/http/status"
	"github.com/indigo-web/gate/internal/metrics"
	"github.com/indigo-web/gate/internal/protocol/http1"
	"github.com/indigo-web/gate/scope"
	"github.com/indigo-web/gate/transport"
	"github.com/indigo-web/gate/websocket"
)

var (
	ErrNotAccepted      = errors.New("websocket connection is not accepted yet")
	ErrAlreadyAccepted  = errors.New("websocket connection is already accepted")
	ErrClosed           = errors.New("websocket connection is closed")
	ErrAmbiguousMessage = errors.New("both text and bytes are set")
	ErrEmptyMessage     = errors.New("neither text nor bytes are set")
)

// Exchange drives a single upgraded connection through CONNECTING, OPEN and CLOSED.
// Receive and Send may be called from different goroutines, but neither of them
// concurrently with itself.
type Exchange struct {
	scope   *scope.Scope
	client  transport.Client
	cfg     *config.Config
	metrics *metrics.Metrics

	rmu          sync.Mutex
	connected    bool
	disconnected bool
	acc          *websocket.Accumulator

	wmu      sync.Mutex
	out      []byte
	accepted atomic.Bool
	closed   atomic.Bool
}

func New(s *scope.Scope, client transport.Client, cfg *config.Config, m *metrics.Metrics) *Exchange {
	return &Exchange{
		scope:   s,
		client:  client,
		cfg:     cfg,
		metrics: m,
		acc:     websocket.NewAccumulator(cfg.WebSocket.MaxPayloadSize),
		out:     make([]byte, 0, cfg.NET.WriteBufferSize.Default),
	}
}

// Receive returns Connect on the first call without touching the wire. Every next
// call blocks until a complete message or a close frame arrives.
func (e *Exchange) Receive() (event.Inbound, error) {
	e.rmu.Lock()
	defer e.rmu.Unlock()

	if !e.connected {
		e.connected = true
		return event.Connect{}, nil
	}

	switch {
	case e.disconnected || e.closed.Load():
		return nil, ErrClosed
	case !e.accepted.Load():
		return nil, ErrNotAccepted
	}

	for {
		frame, err := websocket.DecodeFrame(e.client, e.cfg.WebSocket.MaxPayloadSize)
		if err != nil {
			return nil, e.fail(err)
		}

		e.metrics.Frame(frame.Opcode, metrics.Inbound)

		result, err := e.acc.Feed(frame)
		if err != nil {
			return nil, e.fail(err)
		}

		switch result.Kind {
		case websocket.Pending:
		case websocket.Message:
			if result.Opcode == websocket.OpText {
				text := string(result.Payload)
				return event.Receive{Text: &text}, nil
			}

			return event.Receive{Bytes: result.Payload}, nil
		case websocket.Closed:
			e.disconnected = true
			// the closing handshake is completed on our side right away
			if err = e.replyClose(); err != nil {
				return nil, err
			}

			return event.Disconnect{Code: result.Code, Reason: result.Reason}, nil
		}
	}
}

// fail reports a protocol violation to the peer before the error is surfaced.
// Transport errors are returned as is.
func (e *Exchange) fail(err error) error {
	code, ok := closeCode(err)
	if !ok {
		return err
	}

	e.wmu.Lock()
	defer e.wmu.Unlock()

	if e.closed.Load() {
		return err
	}

	if serr := e.shutdown(code); serr != nil {
		return errors.Join(err, serr)
	}

	return err
}

func closeCode(err error) (uint16, bool) {
	switch {
	case errors.Is(err, websocket.ErrFrameTooLarge):
		return websocket.CloseMessageTooBig, true
	case errors.Is(err, websocket.ErrInvalidUTF8):
		return websocket.CloseInvalidPayload, true
	case errors.Is(err, websocket.ErrReservedOpcode),
		errors.Is(err, websocket.ErrUnexpectedContinuation),
		errors.Is(err, websocket.ErrControlTooLong),
		errors.Is(err, websocket.ErrBadClosePayload):
		return websocket.CloseProtocolError, true
	default:
		return 0, false
	}
}

// Send accepts Accept, Send and Close events. Every call results in exactly one
// write and flush.
func (e *Exchange) Send(ev event.Outbound) error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}

	switch ev := ev.(type) {
	case event.Accept:
		return e.accept()
	case event.Send:
		return e.send(ev)
	case event.Close:
		return e.close(ev)
	default:
		return event.Unexpected(ev)
	}
}

func (e *Exchange) accept() error {
	if e.accepted.Load() {
		return ErrAlreadyAccepted
	}

	key, err := websocket.HandshakeKey(e.scope.Headers)
	if err != nil {
		if rerr := e.reject(status.BadRequest); rerr != nil {
			return errors.Join(err, rerr)
		}

		return err
	}

	e.out = websocket.AppendHandshakeResponse(e.out[:0], websocket.AcceptToken(key))
	if err = e.flush(); err != nil {
		return err
	}

	e.accepted.Store(true)

	return nil
}

func (e *Exchange) send(ev event.Send) error {
	if !e.accepted.Load() {
		return ErrNotAccepted
	}

	var opcode websocket.Opcode

	switch {
	case ev.Text != nil && ev.Bytes != nil:
		return ErrAmbiguousMessage
	case ev.Text != nil:
		opcode = websocket.OpText
		e.out = websocket.AppendText(e.out[:0], *ev.Text)
	case ev.Bytes == nil:
		return ErrEmptyMessage
	default:
		opcode = websocket.OpBinary
		e.out = websocket.AppendBinary(e.out[:0], ev.Bytes)
	}

	if err := e.flush(); err != nil {
		return err
	}

	e.metrics.Frame(opcode, metrics.Outbound)

	return nil
}

// close tears the connection down. Before the handshake was completed, the upgrade
// is rejected with 403 instead.
func (e *Exchange) close(ev event.Close) error {
	if !e.accepted.Load() {
		return e.reject(status.Forbidden)
	}

	code := ev.Code
	if code == 0 {
		code = websocket.CloseNormalClosure
	}

	out, err := websocket.AppendClose(e.out[:0], code, ev.Reason)
	if err != nil {
		return err
	}

	e.out = out
	if err = e.flush(); err != nil {
		return err
	}

	e.metrics.Frame(websocket.OpClose, metrics.Outbound)
	e.closed.Store(true)

	return e.client.Close()
}

func (e *Exchange) replyClose() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	if e.closed.Load() {
		return nil
	}

	return e.shutdown(websocket.CloseNormalClosure)
}

// shutdown writes a close frame and marks the exchange closed. The connection itself
// is left open. Must be called with wmu held.
func (e *Exchange) shutdown(code uint16) error {
	e.closed.Store(true)
	e.out, _ = websocket.AppendClose(e.out[:0], code, "")
	e.metrics.Frame(websocket.OpClose, metrics.Outbound)

	return e.flush()
}

func (e *Exchange) reject(code status.Code) error {
	e.closed.Store(true)
	e.out = http1.AppendError(e.out[:0], e.scope.HTTPVersion, code)
	if err := e.flush(); err != nil {
		return err
	}

	return e.client.Close()
}

func (e *Exchange) flush() error {
	if _, err := e.client.Write(e.out); err != nil {
		return err
	}

	return e.client.Flush()
}

// Finish rejects the upgrade with 403 if the application returned without either
// accepting or closing the connection.
func (e *Exchange) Finish() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	if e.closed.Load() || e.accepted.Load() {
		return nil
	}

	return e.reject(status.Forbidden)
}
