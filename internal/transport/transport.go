package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// Conn is the byte transport a session runs over. Every call blocks until it
// completes, its deadline passes or ctx is cancelled.
type Conn interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Dialer acquires a new Conn
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// ConnectionError reports a failure to resolve or connect to the feed
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TCPDialer dials the feed over TCP
type TCPDialer struct {
	Addr         string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Dial connects to Addr
func (d *TCPDialer) Dial(ctx context.Context) (Conn, error) {
	nd := net.Dialer{Timeout: d.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, &ConnectionError{Addr: d.Addr, Err: err}
	}
	return Wrap(conn, d.ReadTimeout, d.WriteTimeout), nil
}

// Wrap adapts a net.Conn. Zero timeouts mean no per-call limit.
func Wrap(conn net.Conn, readTimeout, writeTimeout time.Duration) Conn {
	return &netConn{
		conn:         conn,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

type netConn struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *netConn) Read(ctx context.Context, p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(deadline(ctx, c.readTimeout)); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() {
		// Unblock the pending read
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, err := c.conn.Read(p)
	if err != nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

func (c *netConn) Write(ctx context.Context, p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(deadline(ctx, c.writeTimeout)); err != nil {
		return 0, err
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetWriteDeadline(time.Now())
	})
	defer stop()

	n, err := c.conn.Write(p)
	if err != nil && ctx.Err() != nil {
		return n, ctx.Err()
	}
	if err == nil && n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, err
}

func (c *netConn) Close() error {
	return c.conn.Close()
}

// deadline picks the sooner of the per-call timeout and the ctx deadline. The
// zero time clears any deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var d time.Time
	if timeout > 0 {
		d = time.Now().Add(timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}
