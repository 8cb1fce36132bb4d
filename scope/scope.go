package scope

import (
	"bytes"
	"errors"
	"io"
	"net"

	"github.com/indigo-web/gate/config"
	"github.com/indigo-web/gate/http/status"
	"github.com/indigo-web/gate/internal/uridecode"
	"github.com/indigo-web/gate/transport"
	"github.com/indigo-web/gate/websocket"
	"github.com/indigo-web/utils/uf"
)

// Version of the application interface the scope follows.
const Version = "3.0"

type ConnectionType uint8

const (
	HTTP ConnectionType = iota + 1
	WebSocket
)

func (c ConnectionType) String() string {
	switch c {
	case HTTP:
		return "http"
	case WebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

var (
	ErrMalformedRequestLine = status.NewError(status.BadRequest, "malformed request line")
	ErrMalformedHeaderLine  = status.NewError(status.BadRequest, "malformed header line")
	ErrBadPath              = status.NewError(status.BadRequest, "bad request path")
	ErrRequestLineTooLong   = status.NewError(status.RequestURITooLong, "request line is too long")
	ErrHeaderLineTooLong    = status.NewError(status.RequestHeaderFieldsTooLarge, "header line is too long")
	ErrTooManyHeaders       = status.NewError(status.RequestHeaderFieldsTooLarge, "too many headers")
	ErrUnsupportedProtocol  = status.NewError(status.HTTPVersionNotSupported, "HTTP version not supported")
)

// Scope describes the request that opened the connection. It's built once and must be
// treated as read-only afterwards.
type Scope struct {
	Type        ConnectionType
	HTTPVersion string
	// Method is set only for HTTP connections.
	Method string
	Scheme string
	// Path is percent-decoded and has neither query nor fragment.
	Path string
	// RawPath is the path exactly as it came in the request target.
	RawPath     []byte
	QueryString []byte
	Headers     Headers
	Client      string
	Server      string
}

// Build reads the request line and the header block, and nothing past them. If the
// peer closed the connection without sending a byte, nil scope and nil error are
// returned: that's an idle connection, not a failure.
func Build(client transport.Client, cfg *config.Config) (*Scope, error) {
	line, err := client.ReadUntil('\n', cfg.URI.RequestLineSize.Maximal)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return nil, nil
	case errors.Is(err, transport.ErrLineTooLong):
		return nil, ErrRequestLineTooLong
	default:
		return nil, err
	}

	s := &Scope{
		Client: addrString(client.Remote()),
		Server: addrString(client.Local()),
	}

	target, err := s.parseRequestLine(trimLine(line))
	if err != nil {
		return nil, err
	}

	if err = s.parseTarget(target); err != nil {
		return nil, err
	}

	if s.Headers, err = readHeaders(client, cfg.Headers); err != nil {
		return nil, err
	}

	s.Type, s.Scheme = HTTP, "http"
	if websocket.IsUpgrade(s.Headers) {
		s.Type, s.Scheme, s.Method = WebSocket, "ws", ""
	}

	return s, nil
}

// parseRequestLine splits the line into exactly three tokens: method, target and
// protocol. Returns the target.
func (s *Scope) parseRequestLine(line []byte) ([]byte, error) {
	methodEnd := bytes.IndexByte(line, ' ')
	if methodEnd <= 0 {
		return nil, ErrMalformedRequestLine
	}

	rest := line[methodEnd+1:]
	targetEnd := bytes.IndexByte(rest, ' ')
	if targetEnd <= 0 {
		return nil, ErrMalformedRequestLine
	}

	target, protocol := rest[:targetEnd], rest[targetEnd+1:]
	if len(protocol) == 0 || bytes.IndexByte(protocol, ' ') != -1 {
		return nil, ErrMalformedRequestLine
	}

	version, found := bytes.CutPrefix(protocol, []byte("HTTP/"))
	if !found || len(version) == 0 {
		return nil, ErrMalformedRequestLine
	}

	switch s.HTTPVersion = uf.B2S(version); s.HTTPVersion {
	case "1.0", "1.1":
	default:
		return nil, ErrUnsupportedProtocol
	}

	s.Method = uf.B2S(line[:methodEnd])

	return target, nil
}

// parseTarget splits the request target into the path and the query. The fragment, if
// any, is dropped, as well as the scheme and the authority of an absolute-form target.
func (s *Scope) parseTarget(target []byte) error {
	if hash := bytes.IndexByte(target, '#'); hash != -1 {
		target = target[:hash]
	}

	if rest, found := cutScheme(target); found {
		if slash := bytes.IndexAny(rest, "/?"); slash != -1 {
			target = rest[slash:]
		} else {
			target = nil
		}

		if len(target) == 0 || target[0] == '?' {
			target = append([]byte("/"), target...)
		}
	}

	if query := bytes.IndexByte(target, '?'); query != -1 {
		s.QueryString = target[query+1:]
		target = target[:query]
	}

	if len(target) == 0 {
		return ErrBadPath
	}

	path, err := uridecode.Decode(target, nil)
	if err != nil {
		return ErrBadPath
	}

	s.RawPath = target
	s.Path = uf.B2S(path)

	return nil
}

func cutScheme(target []byte) (rest []byte, found bool) {
	for _, scheme := range []string{"http://", "https://", "ws://", "wss://"} {
		if len(target) >= len(scheme) && bytes.EqualFold(target[:len(scheme)], []byte(scheme)) {
			return target[len(scheme):], true
		}
	}

	return target, false
}

func readHeaders(client transport.Client, cfg config.Headers) (Headers, error) {
	headers := NewHeaders(cfg.Number.Default)

	for {
		line, err := client.ReadUntil('\n', cfg.LineSize.Maximal)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return headers, transport.ErrStreamClosed
		case errors.Is(err, transport.ErrLineTooLong):
			return headers, ErrHeaderLineTooLong
		default:
			return headers, err
		}

		line = trimLine(line)
		if len(line) == 0 {
			return headers, nil
		}

		if headers.Len() >= cfg.Number.Maximal {
			return headers, ErrTooManyHeaders
		}

		sep := bytes.Index(line, []byte(": "))
		if sep <= 0 {
			return headers, ErrMalformedHeaderLine
		}

		name := line[:sep]
		toLower(name)
		headers.Add(name, line[sep+2:])
	}
}

// trimLine strips the line terminator along with any trailing whitespace.
func trimLine(line []byte) []byte {
	return bytes.TrimRight(line, " \t\r\n")
}

func toLower(b []byte) {
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c | 0x20
		}
	}
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	return addr.String()
}
