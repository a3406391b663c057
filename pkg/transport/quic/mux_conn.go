// Package quic carries relay traffic between the caller and the relay
// daemon. One QUIC connection is shared per peer; every exchange opens its
// own stream whose first byte names the stream type.
package quic

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// StreamType identifies what a stream carries.
type StreamType byte

const (
	// StreamTypeControl carries ping/status/shutdown requests.
	StreamTypeControl StreamType = 0x01
	// StreamTypeFetch carries one relayed one-shot HTTP request.
	StreamTypeFetch StreamType = 0x02
	// StreamTypeChat carries one streaming chat exchange.
	StreamTypeChat StreamType = 0x03
)

// String returns the stream type name.
func (t StreamType) String() string {
	switch t {
	case StreamTypeControl:
		return "control"
	case StreamTypeFetch:
		return "fetch"
	case StreamTypeChat:
		return "chat"
	default:
		return "unknown"
	}
}

// StreamTypes lists every stream type a listener routes.
var StreamTypes = []StreamType{StreamTypeControl, StreamTypeFetch, StreamTypeChat}

// MuxConn wraps a QUIC connection and tags streams with a type byte.
type MuxConn struct {
	conn *quic.Conn
}

// NewMuxConn wraps an established QUIC connection.
func NewMuxConn(conn *quic.Conn) *MuxConn {
	return &MuxConn{conn: conn}
}

// OpenStream opens a new stream and announces its type to the peer.
func (c *MuxConn) OpenStream(ctx context.Context, t StreamType) (net.Conn, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if _, err := stream.Write([]byte{byte(t)}); err != nil {
		stream.CancelRead(0)
		stream.CancelWrite(0)
		return nil, fmt.Errorf("write stream type: %w", err)
	}
	return newStreamConn(stream, c.conn), nil
}

// AcceptStream waits for the next stream and reads its type byte.
func (c *MuxConn) AcceptStream(ctx context.Context) (net.Conn, StreamType, error) {
	stream, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, 0, err
	}
	var header [1]byte
	if _, err := io.ReadFull(stream, header[:]); err != nil {
		stream.CancelRead(0)
		stream.CancelWrite(0)
		return nil, 0, fmt.Errorf("read stream type: %w", err)
	}
	return newStreamConn(stream, c.conn), StreamType(header[0]), nil
}

// Context is cancelled when the underlying connection closes.
func (c *MuxConn) Context() context.Context {
	return c.conn.Context()
}

// RemoteAddr returns the peer address.
func (c *MuxConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection and every stream on it.
func (c *MuxConn) Close() error {
	return c.conn.CloseWithError(0, "closed")
}

// streamConn adapts a QUIC stream to net.Conn.
type streamConn struct {
	stream *quic.Stream
	conn   *quic.Conn

	closeOnce sync.Once
}

func newStreamConn(stream *quic.Stream, conn *quic.Conn) *streamConn {
	return &streamConn{stream: stream, conn: conn}
}

func (s *streamConn) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *streamConn) Write(p []byte) (int, error) { return s.stream.Write(p) }

// Close abandons the read side and sends FIN, so the peer sees EOF on its
// next read and an error on its next write.
func (s *streamConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stream.CancelRead(0)
		err = s.stream.Close()
	})
	return err
}

func (s *streamConn) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *streamConn) SetDeadline(t time.Time) error      { return s.stream.SetDeadline(t) }
func (s *streamConn) SetReadDeadline(t time.Time) error  { return s.stream.SetReadDeadline(t) }
func (s *streamConn) SetWriteDeadline(t time.Time) error { return s.stream.SetWriteDeadline(t) }

var _ net.Conn = (*streamConn)(nil)
