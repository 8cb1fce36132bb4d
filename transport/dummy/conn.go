package dummy

import (
	"io"
	"net"
	"sync"
	"time"
)

var (
	clientAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50432}
	serverAddr = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8000}
)

// Conn is an in-memory connection. Every Read returns at most one of the chunks it
// was initialised with, so a request may be dispersed over multiple reads. Once the
// chunks are exhausted, io.EOF is returned. Everything written is accumulated.
type Conn struct {
	mu     sync.Mutex
	chunks [][]byte
	data   []byte
	closed bool
	nop    bool
}

func NewConn(chunks ...[]byte) *Conn {
	return &Conn{chunks: chunks}
}

func (c *Conn) Read(b []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, net.ErrClosed
	}

	for len(c.chunks) > 0 && len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}

	if len(c.chunks) == 0 {
		return 0, io.EOF
	}

	n = copy(b, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]

	return n, nil
}

func (c *Conn) Write(b []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, net.ErrClosed
	}

	if !c.nop {
		c.data = append(c.data, b...)
	}

	return len(b), nil
}

// Written returns a copy of everything written so far.
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.data...)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Conn) LocalAddr() net.Addr {
	return serverAddr
}

func (c *Conn) RemoteAddr() net.Addr {
	return clientAddr
}

func (c *Conn) SetDeadline(time.Time) error {
	return nil
}

func (c *Conn) SetReadDeadline(time.Time) error {
	return nil
}

func (c *Conn) SetWriteDeadline(time.Time) error {
	return nil
}

// Nop discards everything written.
func (c *Conn) Nop() *Conn {
	c.nop = true
	return c
}
