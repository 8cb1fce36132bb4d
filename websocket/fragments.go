package websocket

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
)

var (
	ErrUnexpectedContinuation = errors.New("continuation frame without a started message")
	ErrControlTooLong         = errors.New("control frame payload exceeds 125 bytes")
)

type ResultKind uint8

const (
	// Pending means the frame was consumed, but there's nothing to report yet: either
	// a message is still being assembled, or it was a ping/pong frame.
	Pending ResultKind = iota
	// Message means a complete text or binary message is ready.
	Message
	// Closed means the peer sent a close frame.
	Closed
)

type Result struct {
	Kind ResultKind
	// Opcode is either OpText or OpBinary, set for Message.
	Opcode  Opcode
	Payload []byte
	// Code and Reason are set for Closed.
	Code   uint16
	Reason string
}

// Accumulator reassembles fragmented messages. It belongs to a single connection and
// must not be shared.
type Accumulator struct {
	open    bool
	opcode  Opcode
	payload []byte
	limit   uint64
}

// NewAccumulator returns an accumulator refusing messages bigger than limit bytes.
// Zero disables the limit.
func NewAccumulator(limit uint64) *Accumulator {
	return &Accumulator{limit: limit}
}

// Feed consumes a single frame. Close frames bypass the accumulator and are reported
// immediately, regardless of the FIN bit.
func (a *Accumulator) Feed(frame Frame) (Result, error) {
	if frame.Opcode.IsControl() && len(frame.Payload) > maxSingleByteLength {
		return Result{}, ErrControlTooLong
	}

	switch frame.Opcode {
	case OpText, OpBinary:
		// a new data frame discards whatever was left unfinished
		a.open = true
		a.opcode = frame.Opcode
		a.payload = append(a.payload[:0], frame.Payload...)
	case OpContinuation:
		if !a.open {
			return Result{}, ErrUnexpectedContinuation
		}

		if a.limit > 0 && uint64(len(a.payload)+len(frame.Payload)) > a.limit {
			a.reset()
			return Result{}, ErrFrameTooLarge
		}

		a.payload = append(a.payload, frame.Payload...)
	case OpClose:
		return closeResult(frame.Payload)
	case OpPing, OpPong:
		return Result{Kind: Pending}, nil
	default:
		return Result{}, ErrReservedOpcode
	}

	if !frame.Fin {
		return Result{Kind: Pending}, nil
	}

	// empty messages still carry a non-nil payload
	payload := make([]byte, len(a.payload))
	copy(payload, a.payload)

	result := Result{
		Kind:    Message,
		Opcode:  a.opcode,
		Payload: payload,
	}
	a.reset()

	if result.Opcode == OpText && !utf8.Valid(result.Payload) {
		return Result{}, ErrInvalidUTF8
	}

	return result, nil
}

// Open reports whether a fragmented message is being assembled.
func (a *Accumulator) Open() bool {
	return a.open
}

func (a *Accumulator) reset() {
	a.open = false
	a.opcode = OpContinuation
	a.payload = a.payload[:0]
}

func closeResult(payload []byte) (Result, error) {
	switch len(payload) {
	case 0:
		return Result{Kind: Closed, Code: CloseNoStatusReceived}, nil
	case 1:
		return Result{}, ErrBadClosePayload
	}

	reason := payload[2:]
	if !utf8.Valid(reason) {
		return Result{}, ErrInvalidUTF8
	}

	return Result{
		Kind:   Closed,
		Code:   binary.BigEndian.Uint16(payload),
		Reason: string(reason),
	}, nil
}
