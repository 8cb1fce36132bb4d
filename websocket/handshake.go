package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
)

// GUID is appended to the client's key before hashing it into the accept token.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var ErrMissingHandshakeKey = errors.New("missing Sec-WebSocket-Key header")

// Headers is a read-only view of request headers. Names are lower-cased and, if a
// header occurs multiple times, its first occurrence is returned.
type Headers interface {
	Get(name string) (string, bool)
}

// IsUpgrade reports whether the request asks for a WebSocket upgrade: the Connection
// header must contain the "Upgrade" token and the Upgrade header must be exactly
// "websocket". Both comparisons are case-sensitive.
func IsUpgrade(headers Headers) bool {
	connection, _ := headers.Get("connection")
	upgrade, _ := headers.Get("upgrade")

	return strings.Contains(connection, "Upgrade") && upgrade == "websocket"
}

// HandshakeKey returns the Sec-WebSocket-Key value.
func HandshakeKey(headers Headers) (string, error) {
	key, found := headers.Get("sec-websocket-key")
	if !found {
		return "", ErrMissingHandshakeKey
	}

	return key, nil
}

// AcceptToken computes the Sec-WebSocket-Accept value for the client's key.
func AcceptToken(key string) string {
	digest := sha1.Sum([]byte(key + GUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

// AppendHandshakeResponse renders the 101 response completing the handshake.
func AppendHandshakeResponse(dst []byte, acceptToken string) []byte {
	dst = append(dst, "HTTP/1.1 101 Switching Protocols\r\n"...)
	dst = append(dst, "Upgrade: websocket\r\n"...)
	dst = append(dst, "Connection: Upgrade\r\n"...)
	dst = append(dst, "Sec-WebSocket-Accept: "...)
	dst = append(dst, acceptToken...)

	return append(dst, "\r\n\r\n"...)
}
