package uridecode

import (
	"bytes"
	"errors"

	"github.com/indigo-web/gate/internal/hexconv"
)

var ErrBadEscape = errors.New("invalid percent-encoded sequence")

// Decode translates percent-encoded sequences of the path into their true form,
// appending the result to buff. If src has nothing to decode, it's returned as is.
func Decode(src, buff []byte) ([]byte, error) {
	for i := bytes.IndexByte(src, '%'); i != -1; i = bytes.IndexByte(src, '%') {
		if i >= len(src)-2 {
			return nil, ErrBadEscape
		}

		char, ok := hexconv.Pair(src[i+1], src[i+2])
		if !ok {
			return nil, ErrBadEscape
		}

		buff = append(buff, src[:i]...)
		buff = append(buff, char)
		src = src[i+3:]
	}

	if len(buff) == 0 {
		return src, nil
	}

	return append(buff, src...), nil
}
