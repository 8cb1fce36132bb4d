package http1

import (
	"strconv"

	"github.com/indigo-web/gate/http/status"
	"github.com/indigo-web/gate/scope"
)

type serializer struct {
	buff []byte
}

func newSerializer(buff []byte) *serializer {
	return &serializer{buff: buff[:0]}
}

// Head renders the status line and the header block, including the terminating empty
// line. Headers are written in the order they were supplied.
func (s *serializer) Head(version string, code status.Code, headers []scope.Header) []byte {
	s.buff = s.buff[:0]
	s.appendProtocol(version)
	s.appendStatus(code)

	for _, header := range headers {
		s.appendHeader(header)
	}

	s.crlf()

	return s.buff
}

func (s *serializer) appendStatus(code status.Code) {
	s.buff = strconv.AppendUint(s.buff, uint64(code), 10)
	s.sp()
	s.buff = append(s.buff, status.Text(code)...)
	s.crlf()
}

func (s *serializer) appendHeader(header scope.Header) {
	s.buff = append(s.buff, header.Name...)
	s.colonsp()
	s.buff = append(s.buff, header.Value...)
	s.crlf()
}

func (s *serializer) appendProtocol(version string) {
	if len(version) == 0 {
		// the request line may be rejected before the version was reached
		version = "1.1"
	}

	s.buff = append(s.buff, "HTTP/"...)
	s.buff = append(s.buff, version...)
	s.sp()
}

func (s *serializer) sp() {
	s.buff = append(s.buff, ' ')
}

func (s *serializer) colonsp() {
	s.buff = append(s.buff, ':', ' ')
}

const crlf = "\r\n"

func (s *serializer) crlf() {
	s.buff = append(s.buff, crlf...)
}

// AppendError renders a complete bodiless response reporting the error code. It's
// used when the request couldn't be parsed, so the connection is always closed after.
func AppendError(dst []byte, version string, code status.Code) []byte {
	s := serializer{buff: dst}
	s.appendProtocol(version)
	s.appendStatus(code)
	s.buff = append(s.buff, "Connection: close\r\nContent-Length: 0\r\n"...)
	s.crlf()

	return s.buff
}
