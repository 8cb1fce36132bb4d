package ws

import (
	"bufio"
	"bytes"
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/indigo-web/gate/config"
	"github.com/indigo-web/gate/event"
	"github.com/indigo-web/gate/internal/metrics"
	"github.com/indigo-web/gate/scope"
	"github.com/indigo-web/gate/transport"
	"github.com/indigo-web/gate/transport/dummy"
	"github.com/indigo-web/gate/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const (
	handshakeRequest = "GET /chat HTTP/1.1\r\n" +
		"Host: server.example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	acceptToken = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

// clientFrame renders a frame the way a client does: always masked.
func clientFrame(fin bool, opcode websocket.Opcode, payload string) []byte {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	masked := []byte(payload)
	websocket.Mask(masked, key)

	frame := websocket.AppendFrame(nil, fin, opcode, masked)
	headerLen := len(frame) - len(masked)
	frame[1] |= 0x80

	result := append([]byte(nil), frame[:headerLen]...)
	result = append(result, key[:]...)

	return append(result, masked...)
}

type testExchange struct {
	*Exchange
	conn *dummy.Conn
}

func newExchange(t *testing.T, m *metrics.Metrics, request string, frames ...[]byte) testExchange {
	chunks := append([][]byte{[]byte(request)}, frames...)
	conn := dummy.NewConn(chunks...)
	client := transport.NewClient(conn, time.Second, make([]byte, 512), nil)
	cfg := config.Default()
	s, err := scope.Build(client, cfg)
	require.NoError(t, err)
	require.Equal(t, scope.WebSocket, s.Type)

	return testExchange{
		Exchange: New(s, client, cfg, m),
		conn:     conn,
	}
}

// open performs Connect and Accept and returns the length of the handshake response.
func (e testExchange) open(t *testing.T) int {
	ev, err := e.Receive()
	require.NoError(t, err)
	require.Equal(t, event.Connect{}, ev)
	require.NoError(t, e.Send(event.Accept{}))

	return len(e.conn.Written())
}

func TestExchange_Handshake(t *testing.T) {
	t.Run("connect without reading", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		ev, err := ex.Receive()
		require.NoError(t, err)
		require.Equal(t, event.Connect{}, ev)
		require.Empty(t, ex.conn.Written())
	})

	t.Run("accept", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		ex.open(t)

		resp, err := stdhttp.ReadResponse(bufio.NewReader(bytes.NewReader(ex.conn.Written())), nil)
		require.NoError(t, err)
		require.Equal(t, stdhttp.StatusSwitchingProtocols, resp.StatusCode)
		require.Equal(t, "websocket", resp.Header.Get("Upgrade"))
		require.Equal(t, "Upgrade", resp.Header.Get("Connection"))
		require.Equal(t, acceptToken, resp.Header.Get("Sec-WebSocket-Accept"))

		require.ErrorIs(t, ex.Send(event.Accept{}), ErrAlreadyAccepted)
	})

	t.Run("receive before accept", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		_, err := ex.Receive()
		require.NoError(t, err)
		_, err = ex.Receive()
		require.ErrorIs(t, err, ErrNotAccepted)
	})

	t.Run("send before accept", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		require.ErrorIs(t, ex.Send(event.Text("hello")), ErrNotAccepted)
		require.Empty(t, ex.conn.Written())
	})

	t.Run("close before accept", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		require.NoError(t, ex.Send(event.Close{}))
		require.True(t, ex.conn.Closed())

		resp, err := stdhttp.ReadResponse(bufio.NewReader(bytes.NewReader(ex.conn.Written())), nil)
		require.NoError(t, err)
		require.Equal(t, stdhttp.StatusForbidden, resp.StatusCode)
		require.ErrorIs(t, ex.Send(event.Accept{}), ErrClosed)
	})

	t.Run("missing key", func(t *testing.T) {
		request := "GET / HTTP/1.1\r\nUpgrade: websocket\r\nConnection: keep-alive, Upgrade\r\n\r\n"
		ex := newExchange(t, nil, request)
		require.ErrorIs(t, ex.Send(event.Accept{}), websocket.ErrMissingHandshakeKey)
		require.True(t, bytes.HasPrefix(ex.conn.Written(), []byte("HTTP/1.1 400 Bad Request\r\n")))
		require.True(t, ex.conn.Closed())
	})

	t.Run("http events", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		require.ErrorIs(t, ex.Send(event.ResponseBody{}), event.ErrUnexpectedEvent)
	})
}

func TestExchange_Receive(t *testing.T) {
	t.Run("text and binary", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(true, websocket.OpText, "Hello"),
			clientFrame(true, websocket.OpBinary, "\x00\x01\x02"),
		)
		ex.open(t)

		ev, err := ex.Receive()
		require.NoError(t, err)
		msg := ev.(event.Receive)
		require.True(t, msg.IsText())
		require.Equal(t, "Hello", *msg.Text)
		require.Nil(t, msg.Bytes)

		ev, err = ex.Receive()
		require.NoError(t, err)
		msg = ev.(event.Receive)
		require.False(t, msg.IsText())
		require.Equal(t, []byte{0, 1, 2}, msg.Bytes)
	})

	t.Run("empty messages", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(true, websocket.OpBinary, ""),
			clientFrame(true, websocket.OpText, ""),
		)
		ex.open(t)

		ev, err := ex.Receive()
		require.NoError(t, err)
		msg := ev.(event.Receive)
		require.Nil(t, msg.Text)
		require.NotNil(t, msg.Bytes)
		require.Empty(t, msg.Bytes)

		ev, err = ex.Receive()
		require.NoError(t, err)
		msg = ev.(event.Receive)
		require.True(t, msg.IsText())
		require.Empty(t, *msg.Text)
		require.Nil(t, msg.Bytes)
	})

	t.Run("fragmented", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(false, websocket.OpText, "Hel"),
			clientFrame(false, websocket.OpContinuation, "lo, "),
			clientFrame(true, websocket.OpContinuation, "world"),
		)
		ex.open(t)

		ev, err := ex.Receive()
		require.NoError(t, err)
		require.Equal(t, "Hello, world", *ev.(event.Receive).Text)
	})

	t.Run("ping is skipped", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(true, websocket.OpPing, "are you there"),
			clientFrame(true, websocket.OpText, "yes"),
		)
		ex.open(t)

		ev, err := ex.Receive()
		require.NoError(t, err)
		require.Equal(t, "yes", *ev.(event.Receive).Text)
	})

	t.Run("peer close", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(true, websocket.OpClose, "\x03\xe8bye"),
		)
		handshakeLen := ex.open(t)

		ev, err := ex.Receive()
		require.NoError(t, err)
		require.Equal(t, event.Disconnect{Code: 1000, Reason: "bye"}, ev)

		reply, err := websocket.AppendClose(nil, websocket.CloseNormalClosure, "")
		require.NoError(t, err)
		require.Equal(t, reply, ex.conn.Written()[handshakeLen:])

		_, err = ex.Receive()
		require.ErrorIs(t, err, ErrClosed)
		require.ErrorIs(t, ex.Send(event.Text("too late")), ErrClosed)
	})

	t.Run("peer close without code", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(true, websocket.OpClose, ""),
		)
		ex.open(t)

		ev, err := ex.Receive()
		require.NoError(t, err)
		require.Equal(t, event.Disconnect{Code: 1005}, ev)
	})

	t.Run("protocol violation", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(true, websocket.OpContinuation, "orphan"),
		)
		handshakeLen := ex.open(t)

		_, err := ex.Receive()
		require.ErrorIs(t, err, websocket.ErrUnexpectedContinuation)

		reply, err := websocket.AppendClose(nil, websocket.CloseProtocolError, "")
		require.NoError(t, err)
		require.Equal(t, reply, ex.conn.Written()[handshakeLen:])
	})

	t.Run("invalid utf-8", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest,
			clientFrame(true, websocket.OpText, "\xff\xfe"),
		)
		handshakeLen := ex.open(t)

		_, err := ex.Receive()
		require.ErrorIs(t, err, websocket.ErrInvalidUTF8)

		reply, err := websocket.AppendClose(nil, websocket.CloseInvalidPayload, "")
		require.NoError(t, err)
		require.Equal(t, reply, ex.conn.Written()[handshakeLen:])
	})

	t.Run("stream closed", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		handshakeLen := ex.open(t)

		_, err := ex.Receive()
		require.ErrorIs(t, err, transport.ErrStreamClosed)
		require.Len(t, ex.conn.Written(), handshakeLen)
	})
}

func TestExchange_Send(t *testing.T) {
	t.Run("one frame per message", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		handshakeLen := ex.open(t)

		require.NoError(t, ex.Send(event.Text("Hello")))
		require.NoError(t, ex.Send(event.Binary([]byte{1, 2, 3})))

		want := websocket.AppendText(nil, "Hello")
		want = websocket.AppendBinary(want, []byte{1, 2, 3})
		require.Equal(t, want, ex.conn.Written()[handshakeLen:])
	})

	t.Run("ambiguous message", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		ex.open(t)

		text := "both"
		err := ex.Send(event.Send{Text: &text, Bytes: []byte("both")})
		require.ErrorIs(t, err, ErrAmbiguousMessage)
	})

	t.Run("empty message", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		handshakeLen := ex.open(t)

		require.ErrorIs(t, ex.Send(event.Send{}), ErrEmptyMessage)
		require.Len(t, ex.conn.Written(), handshakeLen)

		require.NoError(t, ex.Send(event.Binary(nil)))
		require.Equal(t, []byte{0x82, 0x00}, ex.conn.Written()[handshakeLen:])
	})

	t.Run("close with default code", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		handshakeLen := ex.open(t)

		require.NoError(t, ex.Send(event.Close{}))
		require.Equal(t, []byte{0x88, 0x02, 0x03, 0xe8}, ex.conn.Written()[handshakeLen:])
		require.True(t, ex.conn.Closed())
		require.ErrorIs(t, ex.Send(event.Close{}), ErrClosed)
	})

	t.Run("close with reason", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		handshakeLen := ex.open(t)

		require.NoError(t, ex.Send(event.Close{Code: websocket.CloseGoingAway, Reason: "restart"}))
		want, err := websocket.AppendClose(nil, websocket.CloseGoingAway, "restart")
		require.NoError(t, err)
		require.Equal(t, want, ex.conn.Written()[handshakeLen:])
	})
}

func TestExchange_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry(), "test")
	ex := newExchange(t, m, handshakeRequest,
		clientFrame(false, websocket.OpText, "a"),
		clientFrame(true, websocket.OpContinuation, "b"),
	)
	ex.open(t)

	_, err := ex.Receive()
	require.NoError(t, err)
	require.NoError(t, ex.Send(event.Text("ab")))
	require.NoError(t, ex.Send(event.Close{}))

	frames := m.WebSocketFrames
	require.Equal(t, 1.0, testutil.ToFloat64(frames.WithLabelValues("text", metrics.Inbound)))
	require.Equal(t, 1.0, testutil.ToFloat64(frames.WithLabelValues("continuation", metrics.Inbound)))
	require.Equal(t, 1.0, testutil.ToFloat64(frames.WithLabelValues("text", metrics.Outbound)))
	require.Equal(t, 1.0, testutil.ToFloat64(frames.WithLabelValues("close", metrics.Outbound)))
}

func TestExchange_Finish(t *testing.T) {
	t.Run("never accepted", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		_, err := ex.Receive()
		require.NoError(t, err)
		require.NoError(t, ex.Finish())
		require.True(t, bytes.HasPrefix(ex.conn.Written(), []byte("HTTP/1.1 403 Forbidden\r\n")))
		require.True(t, ex.conn.Closed())
	})

	t.Run("accepted", func(t *testing.T) {
		ex := newExchange(t, nil, handshakeRequest)
		handshakeLen := ex.open(t)
		require.NoError(t, ex.Finish())
		require.Len(t, ex.conn.Written(), handshakeLen)
	})
}
