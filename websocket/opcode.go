package websocket

type Opcode uint8

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	// 0x3-0x7 are reserved for further non-control frames.
	OpClose Opcode = 0x8
	OpPing  Opcode = 0x9
	OpPong  Opcode = 0xA
	// 0xB-0xF are reserved for further control frames.
)

func (o Opcode) IsControl() bool {
	return o&0x8 != 0
}

func (o Opcode) IsReserved() bool {
	switch o {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return false
	default:
		return true
	}
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "reserved"
	}
}

// Close codes, as registered in RFC 6455 section 7.4.1.
const (
	CloseNormalClosure    uint16 = 1000
	CloseGoingAway        uint16 = 1001
	CloseProtocolError    uint16 = 1002
	CloseUnsupportedData  uint16 = 1003
	CloseNoStatusReceived uint16 = 1005
	CloseAbnormalClosure  uint16 = 1006
	CloseInvalidPayload   uint16 = 1007
	ClosePolicyViolation  uint16 = 1008
	CloseMessageTooBig    uint16 = 1009
	CloseInternalError    uint16 = 1011
)
