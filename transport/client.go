package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

var (
	// ErrStreamClosed is returned when the peer closes the connection in the middle
	// of a read.
	ErrStreamClosed = errors.New("stream closed by peer")
	// ErrLineTooLong is returned by ReadUntil when no delimiter was met within the limit.
	ErrLineTooLong = errors.New("delimiter not found within the limit")
)

// Client is a buffered duplex byte stream over a single connection. Reads and writes
// are serialized independently, so a reader and a writer may work at the same time,
// but two readers (or two writers) never interleave.
type Client interface {
	// ReadExact returns exactly n bytes. The returned slice is owned by the caller.
	ReadExact(n int) ([]byte, error)
	// ReadUntil returns everything up to and including the delimiter. If the limit is
	// positive and the line grows beyond it, ErrLineTooLong is returned. If the peer
	// closed the connection before sending anything, io.EOF is returned as is.
	ReadUntil(delim byte, limit int) ([]byte, error)
	// Write appends the data to the outbound buffer without touching the connection.
	Write([]byte) (int, error)
	// Flush drains the outbound buffer into the connection.
	Flush() error
	Remote() net.Addr
	Local() net.Addr
	Close() error
}

type client struct {
	conn      net.Conn
	buff      []byte
	pending   []byte
	out       []byte
	timeout   time.Duration
	rmu, wmu  sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewClient(conn net.Conn, timeout time.Duration, readBuff, writeBuff []byte) Client {
	return &client{
		conn:    conn,
		buff:    readBuff,
		out:     writeBuff[:0],
		timeout: timeout,
	}
}

func (c *client) ReadExact(n int) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	// n is declared by the peer, so the result grows with the data actually received
	result := make([]byte, 0, min(n, len(c.buff)))

	for len(result) < n {
		if len(c.pending) == 0 {
			if err := c.fill(); err != nil {
				if err == io.EOF {
					return nil, ErrStreamClosed
				}

				return nil, err
			}
		}

		chunk := min(n-len(result), len(c.pending))
		result = append(result, c.pending[:chunk]...)
		c.pending = c.pending[chunk:]
	}

	return result, nil
}

func (c *client) ReadUntil(delim byte, limit int) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	var line []byte

	for {
		if idx := bytes.IndexByte(c.pending, delim); idx != -1 {
			if limit > 0 && len(line)+idx+1 > limit {
				return nil, ErrLineTooLong
			}

			line = append(line, c.pending[:idx+1]...)
			c.pending = c.pending[idx+1:]
			return line, nil
		}

		if limit > 0 && len(line)+len(c.pending) > limit {
			return nil, ErrLineTooLong
		}

		line = append(line, c.pending...)
		c.pending = nil

		if err := c.fill(); err != nil {
			if err == io.EOF && len(line) > 0 {
				return nil, ErrStreamClosed
			}

			return nil, err
		}
	}
}

// fill reads a next portion of data into the internal buffer. io.EOF is returned
// unwrapped, any other error is wrapped.
func (c *client) fill() error {
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	n, err := c.conn.Read(c.buff)
	if n > 0 {
		// the error, if any, will be returned once again by the next call
		c.pending = c.buff[:n]
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return io.EOF
	default:
		return fmt.Errorf("read: %w", err)
	}
}

func (c *client) Write(b []byte) (int, error) {
	c.wmu.Lock()
	c.out = append(c.out, b...)
	c.wmu.Unlock()

	return len(b), nil
}

func (c *client) Flush() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if len(c.out) == 0 {
		return nil
	}

	_, err := c.conn.Write(c.out)
	c.out = c.out[:0]
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}

	return nil
}

// Remote returns the remote address of the connection.
func (c *client) Remote() net.Addr {
	return c.conn.RemoteAddr()
}

// Local returns the local address of the connection.
func (c *client) Local() net.Addr {
	return c.conn.LocalAddr()
}

// Close closes the connection. Subsequent calls are no-op and return the result of
// the first one.
func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}
