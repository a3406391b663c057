package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

var (
	// ErrTerminalSent is returned when a frame is written after the
	// exchange already ended.
	ErrTerminalSent = errors.New("relay: terminal frame already sent")
	// ErrMalformed is returned for a line that is not valid JSON for the
	// expected record.
	ErrMalformed = errors.New("relay: malformed record")
)

// Channel is one chat exchange: newline-delimited JSON values over a
// dedicated stream. It is owned by exactly one request.
type Channel struct {
	conn net.Conn

	wmu sync.Mutex

	rf      Reframer
	readBuf []byte
	pending [][]byte
	eof     bool
	readErr error

	closeOnce sync.Once
	closeErr  error
}

// NewChannel wraps a stream connection.
func NewChannel(conn net.Conn) *Channel {
	return &Channel{
		conn:    conn,
		readBuf: make([]byte, 32*1024),
	}
}

// Send writes v as one JSON line.
func (c *Channel) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(b); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Recv decodes the next line into v. It returns io.EOF once the remote side
// has closed and every buffered line was consumed.
func (c *Channel) Recv(v any) error {
	line, err := c.next()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("%w %q: %w", ErrMalformed, line, err)
	}
	return nil
}

// RecvFrame decodes the next Frame.
func (c *Channel) RecvFrame() (Frame, error) {
	var f Frame
	err := c.Recv(&f)
	return f, err
}

func (c *Channel) next() ([]byte, error) {
	for len(c.pending) == 0 {
		if c.readErr != nil {
			return nil, c.readErr
		}
		if c.eof {
			if last := c.rf.Flush(); last != nil {
				return last, nil
			}
			return nil, io.EOF
		}
		n, err := c.conn.Read(c.readBuf)
		if n > 0 {
			c.pending = append(c.pending, c.rf.Feed(c.readBuf[:n])...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.eof = true
				continue
			}
			// Lines that arrived with the error are delivered first.
			c.readErr = err
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return line, nil
}

// Close releases the stream. It is safe to call more than once and from any
// goroutine; a blocked Recv returns once the stream is closed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// frameWriter sends frames on a Channel and refuses anything after the first
// terminal frame.
type frameWriter struct {
	ch *Channel

	mu       sync.Mutex
	terminal bool
}

func (w *frameWriter) send(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminal {
		return ErrTerminalSent
	}
	if f.Terminal() {
		w.terminal = true
	}
	return w.ch.Send(f)
}
