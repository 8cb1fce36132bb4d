package http1

import (
	"errors"
	"sync"

	"github.com/indigo-web/gate/config"
	"github.com/indigo-web/gate/event"
	"github.com/indigo-web/gate/http/status"
	"github.com/indigo-web/gate/scope"
	"github.com/indigo-web/gate/transport"
)

var (
	ErrBadContentLength = status.NewError(status.BadRequest, "bad Content-Length value")
	ErrBodyTooLarge     = status.NewError(status.RequestEntityTooLarge, "request body is too large")
)

var (
	ErrUnsupportedStatusCode  = errors.New("status code has no reason phrase")
	ErrResponseNotStarted     = errors.New("response body sent before the response start")
	ErrResponseAlreadyStarted = errors.New("response was already started")
	ErrResponseComplete       = errors.New("response is already complete")
)

// Exchange serves exactly one request and one response over the connection. Headers
// of the response are held back until the first body chunk, so an application may
// start the response and still fail without anything being committed to the wire.
type Exchange struct {
	mu         sync.Mutex
	scope      *scope.Scope
	client     transport.Client
	cfg        *config.Config
	serializer *serializer
	head       []byte
	received   bool
	started    bool
	headSent   bool
	complete   bool
}

func New(s *scope.Scope, client transport.Client, cfg *config.Config) *Exchange {
	return &Exchange{
		scope:      s,
		client:     client,
		cfg:        cfg,
		serializer: newSerializer(make([]byte, 0, cfg.NET.WriteBufferSize.Default)),
	}
}

// Receive returns the whole request body on the first call and HTTPDisconnect on
// every next one.
func (e *Exchange) Receive() (event.Inbound, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.received {
		return event.HTTPDisconnect{}, nil
	}

	e.received = true

	length, err := e.contentLength()
	if err != nil {
		return nil, err
	}

	if length == 0 {
		return event.Request{Body: []byte{}}, nil
	}

	body, err := e.client.ReadExact(int(length))
	if err != nil {
		return nil, err
	}

	return event.Request{Body: body}, nil
}

func (e *Exchange) contentLength() (int64, error) {
	value, found := e.scope.Headers.Get("content-length")
	if !found {
		return 0, nil
	}

	length, ok := parseContentLength(value)
	if !ok {
		return 0, ErrBadContentLength
	}

	if length > e.cfg.Body.MaxSize {
		return 0, ErrBodyTooLarge
	}

	return length, nil
}

// parseContentLength accepts only non-empty sequences of decimal digits.
func parseContentLength(value string) (length int64, ok bool) {
	if len(value) == 0 {
		return 0, false
	}

	const cutoff = (1<<63 - 1) / 10

	for i := 0; i < len(value); i++ {
		char := value[i] - '0'
		if char > 9 || length > cutoff {
			return 0, false
		}

		length = length*10 + int64(char)
		if length < 0 {
			return 0, false
		}
	}

	return length, true
}

// Send accepts a ResponseStart followed by any number of ResponseBody events. The
// connection is closed after the body event with MoreBody unset.
func (e *Exchange) Send(ev event.Outbound) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev := ev.(type) {
	case event.ResponseStart:
		return e.start(ev)
	case event.ResponseBody:
		return e.body(ev)
	default:
		return event.Unexpected(ev)
	}
}

func (e *Exchange) start(ev event.ResponseStart) error {
	switch {
	case e.complete:
		return ErrResponseComplete
	case e.started:
		return ErrResponseAlreadyStarted
	case !status.Known(ev.Status):
		return ErrUnsupportedStatusCode
	}

	e.started = true
	e.head = e.serializer.Head(e.scope.HTTPVersion, ev.Status, ev.Headers)

	return nil
}

func (e *Exchange) body(ev event.ResponseBody) error {
	switch {
	case e.complete:
		return ErrResponseComplete
	case !e.started:
		return ErrResponseNotStarted
	}

	if !e.headSent {
		e.headSent = true
		if _, err := e.client.Write(e.head); err != nil {
			return err
		}
	}

	if _, err := e.client.Write(ev.Body); err != nil {
		return err
	}

	if err := e.client.Flush(); err != nil {
		return err
	}

	if ev.MoreBody {
		return nil
	}

	e.complete = true

	return e.client.Close()
}

// Started reports whether the application has already sent the response start.
func (e *Exchange) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.started
}

// Complete reports whether the response was fully sent.
func (e *Exchange) Complete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.complete
}

// Finish responds on behalf of the application if nothing was written yet: with the
// code carried by cause, if it's an HTTP error, and with 500 otherwise. It's called
// once the application returned, so nothing else may use the exchange.
func (e *Exchange) Finish(cause error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.headSent || e.complete {
		return nil
	}

	e.complete = true

	code := status.InternalServerError
	var httpErr status.HTTPError
	if errors.As(cause, &httpErr) {
		code = httpErr.Code
	}

	if _, err := e.client.Write(AppendError(nil, e.scope.HTTPVersion, code)); err != nil {
		return err
	}

	return e.client.Flush()
}
