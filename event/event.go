// Package event defines the messages exchanged between the gateway and an application.
//
// Inbound events are returned by ReceiveFunc, outbound ones are accepted by SendFunc. Both sets
// are closed: only the types declared here implement the interfaces, so a type switch
// over them is exhaustive.
package event

import (
	"errors"
	"fmt"

	"github.com/indigo-web/gate/http/status"
	"github.com/indigo-web/gate/scope"
)

// ErrUnexpectedEvent is returned by SendFunc when the event doesn't belong to the
// connection's protocol.
var ErrUnexpectedEvent = errors.New("event is not valid for this connection")

// Unexpected wraps ErrUnexpectedEvent with the event's type.
func Unexpected(e Outbound) error {
	return fmt.Errorf("%w: %T", ErrUnexpectedEvent, e)
}

// Inbound is an event delivered to the application.
type Inbound interface {
	inbound()
}

// Outbound is an event emitted by the application.
type Outbound interface {
	outbound()
}

type (
	// ReceiveFunc suspends until the next inbound event is available.
	ReceiveFunc func() (Inbound, error)
	// SendFunc suspends until the event is either flushed or buffered.
	SendFunc func(Outbound) error
)

// Application is called exactly once per connection that produced a scope. The
// connection is torn down after it returns.
type Application func(scope *scope.Scope, receive ReceiveFunc, send SendFunc) error

// Request carries the whole request body. MoreBody is always false, as streamed
// request bodies aren't supported.
type Request struct {
	Body     []byte
	MoreBody bool
}

// HTTPDisconnect is returned by ReceiveFunc once the request body was already delivered.
type HTTPDisconnect struct{}

// ResponseStart opens the response. Headers are buffered until the first ResponseBody.
type ResponseStart struct {
	Status  status.Code
	Headers []scope.Header
}

// ResponseBody writes a chunk of the response. The connection is closed once an event
// with MoreBody unset is sent.
type ResponseBody struct {
	Body     []byte
	MoreBody bool
}

// Connect is the first event of every WebSocket connection.
type Connect struct{}

// Receive is a complete WebSocket message. Exactly one of Text and Bytes is set.
type Receive struct {
	Text  *string
	Bytes []byte
}

// IsText reports whether the message is a text one.
func (m Receive) IsText() bool {
	return m.Text != nil
}

// Disconnect reports that the peer closed the WebSocket connection.
type Disconnect struct {
	Code   uint16
	Reason string
}

// Accept completes the WebSocket handshake. Must precede any Send.
type Accept struct{}

// Send writes a single WebSocket message. Exactly one of Text and Bytes must be set.
type Send struct {
	Text  *string
	Bytes []byte
}

// Close closes the WebSocket connection. Zero Code means 1000 (normal closure). If
// sent before Accept, the handshake is rejected with 403 instead.
type Close struct {
	Code   uint16
	Reason string
}

// Text is a shorthand for a text Send.
func Text(text string) Send {
	return Send{Text: &text}
}

// Binary is a shorthand for a binary Send. Nil data is sent as an empty message.
func Binary(data []byte) Send {
	if data == nil {
		data = []byte{}
	}

	return Send{Bytes: data}
}

func (Request) inbound() {}
func (HTTPDisconnect) inbound() {}
func (Connect) inbound() {}
func (Receive) inbound() {}
func (Disconnect) inbound() {}

func (ResponseStart) outbound() {}
func (ResponseBody) outbound() {}
func (Accept) outbound() {}
func (Send) outbound() {}
func (Close) outbound() {}
