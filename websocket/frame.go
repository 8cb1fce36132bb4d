package websocket

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/indigo-web/utils/uf"
)

const (
	finBit  = 1 << 7
	maskBit = 1 << 7

	opcodeMask = 0x0F
	lengthMask = 0x7F

	maxSingleByteLength = 125
	length16Marker      = 126
	length64Marker      = 127
)

var (
	ErrFrameTooLarge   = errors.New("frame payload exceeds the limit")
	ErrReasonTooLong   = errors.New("close reason doesn't fit into a control frame")
	ErrReservedOpcode  = errors.New("reserved opcode")
	ErrBadClosePayload = errors.New("close frame payload must be empty or carry a 2-byte code")
	ErrInvalidUTF8     = errors.New("text payload is not valid UTF-8")
)

// Frame is a single decoded wire frame. The payload is already unmasked.
type Frame struct {
	Fin           bool
	Opcode        Opcode
	Masked        bool
	PayloadLength uint64
	MaskingKey    [4]byte
	Payload       []byte
}

// Reader is the only capability the decoder needs from a stream.
type Reader interface {
	ReadExact(n int) ([]byte, error)
}

// DecodeFrame reads exactly one frame. Extended payload lengths are read in network
// byte order. If maxPayload is positive and the frame declares a bigger payload,
// ErrFrameTooLarge is returned before the payload is read.
func DecodeFrame(r Reader, maxPayload uint64) (frame Frame, err error) {
	header, err := r.ReadExact(2)
	if err != nil {
		return frame, err
	}

	frame.Fin = header[0]&finBit != 0
	frame.Opcode = Opcode(header[0] & opcodeMask)
	frame.Masked = header[1]&maskBit != 0
	frame.PayloadLength = uint64(header[1] & lengthMask)

	switch frame.PayloadLength {
	case length16Marker:
		ext, err := r.ReadExact(2)
		if err != nil {
			return frame, err
		}

		frame.PayloadLength = uint64(binary.BigEndian.Uint16(ext))
	case length64Marker:
		ext, err := r.ReadExact(8)
		if err != nil {
			return frame, err
		}

		frame.PayloadLength = binary.BigEndian.Uint64(ext)
	}

	if frame.PayloadLength > math.MaxInt32 || (maxPayload > 0 && frame.PayloadLength > maxPayload) {
		return frame, ErrFrameTooLarge
	}

	if frame.Masked {
		key, err := r.ReadExact(4)
		if err != nil {
			return frame, err
		}

		copy(frame.MaskingKey[:], key)
	}

	frame.Payload, err = r.ReadExact(int(frame.PayloadLength))
	if err != nil {
		return frame, err
	}

	if frame.Masked {
		Mask(frame.Payload, frame.MaskingKey)
	}

	return frame, nil
}

// Mask XORs the payload with the key in place. As XOR is symmetric, the same call
// both masks and unmasks.
func Mask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i&3]
	}
}

// AppendFrame renders an unmasked frame. Server frames are never masked.
func AppendFrame(dst []byte, fin bool, opcode Opcode, payload []byte) []byte {
	first := byte(opcode)
	if fin {
		first |= finBit
	}

	dst = append(dst, first)
	dst = appendLength(dst, len(payload))

	return append(dst, payload...)
}

func appendLength(dst []byte, length int) []byte {
	switch {
	case length <= maxSingleByteLength:
		return append(dst, byte(length))
	case length <= math.MaxUint16:
		return binary.BigEndian.AppendUint16(append(dst, length16Marker), uint16(length))
	default:
		return binary.BigEndian.AppendUint64(append(dst, length64Marker), uint64(length))
	}
}

// AppendText renders a complete single-frame text message.
func AppendText(dst []byte, text string) []byte {
	return AppendFrame(dst, true, OpText, uf.S2B(text))
}

// AppendBinary renders a complete single-frame binary message.
func AppendBinary(dst []byte, data []byte) []byte {
	return AppendFrame(dst, true, OpBinary, data)
}

// AppendClose renders a close frame carrying the code and an optional reason.
func AppendClose(dst []byte, code uint16, reason string) ([]byte, error) {
	if 2+len(reason) > maxSingleByteLength {
		return dst, ErrReasonTooLong
	}

	payload := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), code)
	payload = append(payload, reason...)

	return AppendFrame(dst, true, OpClose, payload), nil
}
