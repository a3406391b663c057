package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// MuxListener accepts QUIC connections and routes their streams by type.
// Each stream type gets its own net.Listener so a handler per type can run
// its own accept loop.
type MuxListener struct {
	ql *quic.Listener

	mu      sync.Mutex
	closed  bool
	conns   map[*MuxConn]struct{}
	streams map[StreamType]chan net.Conn
	errors  chan error

	ctx    context.Context
	cancel context.CancelFunc
}

// ListenMux creates a new multiplexed QUIC listener.
func ListenMux(addr string, tlsConfig *tls.Config, quicConfig *quic.Config) (*MuxListener, error) {
	ql, err := quic.ListenAddr(addr, tlsConfig, quicConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	streams := make(map[StreamType]chan net.Conn, len(StreamTypes))
	for _, t := range StreamTypes {
		streams[t] = make(chan net.Conn, 16)
	}

	l := &MuxListener{
		ql:      ql,
		conns:   make(map[*MuxConn]struct{}),
		streams: streams,
		errors:  make(chan error, 8),
		ctx:     ctx,
		cancel:  cancel,
	}

	go l.acceptLoop()

	return l, nil
}

func (l *MuxListener) acceptLoop() {
	for {
		qconn, err := l.ql.Accept(l.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				select {
				case l.errors <- fmt.Errorf("accept connection: %w", err):
				default:
				}
			}
			return
		}

		muxConn := NewMuxConn(qconn)

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			muxConn.Close()
			return
		}
		l.conns[muxConn] = struct{}{}
		l.mu.Unlock()

		go l.handleConnection(muxConn)
	}
}

func (l *MuxListener) handleConnection(muxConn *MuxConn) {
	slog.Debug("handling connection", "remote", muxConn.RemoteAddr())
	defer func() {
		slog.Debug("connection handler done", "remote", muxConn.RemoteAddr())
		l.mu.Lock()
		delete(l.conns, muxConn)
		l.mu.Unlock()
	}()

	for {
		conn, streamType, err := muxConn.AcceptStream(l.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("accept stream error", "err", err)
			}
			return
		}

		streamChan, ok := l.streams[streamType]
		if !ok {
			slog.Warn("unknown stream type", "type", byte(streamType))
			conn.Close()
			continue
		}

		select {
		case streamChan <- conn:
		case <-l.ctx.Done():
			conn.Close()
			return
		}
	}
}

// Listener returns a net.Listener for the given stream type. Closing it
// stops its Accept calls without affecting the other stream types.
func (l *MuxListener) Listener(streamType StreamType) net.Listener {
	return &streamListener{
		mux:        l,
		streamType: streamType,
		done:       make(chan struct{}),
	}
}

// Errors reports connection-level accept failures.
func (l *MuxListener) Errors() <-chan error {
	return l.errors
}

// Addr returns the listener's network address.
func (l *MuxListener) Addr() net.Addr {
	return l.ql.Addr()
}

// Close closes the listener and all connections.
func (l *MuxListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.cancel()

	for conn := range l.conns {
		conn.Close()
	}
	l.mu.Unlock()

	return l.ql.Close()
}

// streamListener implements net.Listener for one stream type.
type streamListener struct {
	mux        *MuxListener
	streamType StreamType

	once sync.Once
	done chan struct{}
}

func (l *streamListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, net.ErrClosed
	default:
	}
	select {
	case conn := <-l.mux.streams[l.streamType]:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-l.mux.ctx.Done():
		return nil, net.ErrClosed
	}
}

// Close unblocks Accept. Streams of this type that arrive later stay queued
// on the mux until it closes.
func (l *streamListener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

func (l *streamListener) Addr() net.Addr {
	return l.mux.Addr()
}

var _ net.Listener = (*streamListener)(nil)
