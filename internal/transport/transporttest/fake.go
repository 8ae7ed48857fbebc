// Package transporttest provides scripted transports for tests.
package transporttest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/ismaiel54/tick-gapfill/internal/transport"
)

// Read is one scripted read result
type Read struct {
	Data []byte
	Err  error
}

// Conn replays scripted reads. Once the script is exhausted reads return
// io.EOF, like a feed that closed the stream.
type Conn struct {
	mu      sync.Mutex
	reads   []Read
	written [][]byte
	closed  bool

	// WriteErr, when set, decides whether a write fails
	WriteErr func(p []byte) error
	// OnWrite, when set, returns reads to queue in response to a write
	OnWrite func(p []byte) []Read
}

// NewConn creates a conn that will return reads in order
func NewConn(reads ...Read) *Conn {
	return &Conn{reads: reads}
}

func (c *Conn) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("use of closed connection")
	}
	if len(c.reads) == 0 {
		return 0, io.EOF
	}

	r := &c.reads[0]
	n := copy(p, r.Data)
	if n < len(r.Data) {
		// Leave the rest for the next read
		r.Data = r.Data[n:]
		return n, nil
	}
	c.reads = c.reads[1:]
	return n, r.Err
}

func (c *Conn) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errors.New("use of closed connection")
	}
	if c.WriteErr != nil {
		if err := c.WriteErr(p); err != nil {
			return 0, err
		}
	}

	c.written = append(c.written, append([]byte(nil), p...))
	if c.OnWrite != nil {
		c.reads = append(c.reads, c.OnWrite(p)...)
	}
	return len(p), nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Written returns a copy of every successful write
func (c *Conn) Written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer hands out scripted conns in order
type Dialer struct {
	mu    sync.Mutex
	steps []DialStep
	dials int
}

// DialStep is the outcome of one Dial call
type DialStep struct {
	Conn *Conn
	Err  error
}

// NewDialer creates a dialer that returns the steps in order
func NewDialer(steps ...DialStep) *Dialer {
	return &Dialer{steps: steps}
}

func (d *Dialer) Dial(ctx context.Context) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.steps) == 0 {
		return nil, &transport.ConnectionError{Addr: "fake", Err: errors.New("no scripted connection")}
	}

	step := d.steps[0]
	d.steps = d.steps[1:]
	if step.Err != nil {
		return nil, &transport.ConnectionError{Addr: "fake", Err: step.Err}
	}
	return step.Conn, nil
}

// Dials returns the number of Dial calls
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
