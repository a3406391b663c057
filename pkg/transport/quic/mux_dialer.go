package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
)

// MuxDialer keeps one QUIC connection per relay address and opens typed
// streams on it.
type MuxDialer struct {
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	mu    sync.Mutex
	conns map[string]*MuxConn // addr -> connection
}

// NewMuxDialer creates a new multiplexed dialer.
func NewMuxDialer(tlsConfig *tls.Config, quicConfig *quic.Config) *MuxDialer {
	return &MuxDialer{
		tlsConfig:  tlsConfig,
		quicConfig: quicConfig,
		conns:      make(map[string]*MuxConn),
	}
}

// Dial opens a stream of the given type to the address, reusing an existing
// connection when there is one.
func (d *MuxDialer) Dial(ctx context.Context, addr string, streamType StreamType) (net.Conn, error) {
	muxConn, err := d.getOrCreateConn(ctx, addr)
	if err != nil {
		return nil, err
	}

	stream, err := muxConn.OpenStream(ctx, streamType)
	if err != nil {
		// Connection may be dead, remove it and retry once
		d.removeConn(addr)
		muxConn, err = d.getOrCreateConn(ctx, addr)
		if err != nil {
			return nil, err
		}
		stream, err = muxConn.OpenStream(ctx, streamType)
		if err != nil {
			return nil, fmt.Errorf("open stream after reconnect: %w", err)
		}
	}

	slog.Debug("stream opened", "addr", addr, "type", streamType)
	return stream, nil
}

// Dialer binds the dialer to one relay address. The result satisfies
// relay.DialFunc.
func (d *MuxDialer) Dialer(addr string) func(context.Context, StreamType) (net.Conn, error) {
	return func(ctx context.Context, streamType StreamType) (net.Conn, error) {
		return d.Dial(ctx, addr, streamType)
	}
}

func (d *MuxDialer) getOrCreateConn(ctx context.Context, addr string) (*MuxConn, error) {
	d.mu.Lock()
	if muxConn, ok := d.conns[addr]; ok {
		d.mu.Unlock()
		return muxConn, nil
	}
	d.mu.Unlock()

	slog.Debug("establishing connection", "addr", addr)
	qconn, err := quic.DialAddr(ctx, addr, d.tlsConfig, d.quicConfig)
	if err != nil {
		slog.Debug("connection failed", "addr", addr, "err", err)
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	muxConn := NewMuxConn(qconn)

	d.mu.Lock()
	// Check again in case another goroutine created it
	if existing, ok := d.conns[addr]; ok {
		d.mu.Unlock()
		muxConn.Close()
		return existing, nil
	}
	d.conns[addr] = muxConn
	d.mu.Unlock()

	slog.Debug("connection established", "addr", addr)

	go func() {
		<-muxConn.Context().Done()
		slog.Debug("connection closed", "addr", addr)
		d.removeConnIf(addr, muxConn)
	}()

	return muxConn, nil
}

func (d *MuxDialer) removeConn(addr string) {
	d.mu.Lock()
	if muxConn, ok := d.conns[addr]; ok {
		muxConn.Close()
		delete(d.conns, addr)
	}
	d.mu.Unlock()
}

// removeConnIf drops addr only while it still maps to muxConn.
func (d *MuxDialer) removeConnIf(addr string, muxConn *MuxConn) {
	d.mu.Lock()
	if d.conns[addr] == muxConn {
		delete(d.conns, addr)
	}
	d.mu.Unlock()
}

// Close closes all connections.
func (d *MuxDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var lastErr error
	for addr, conn := range d.conns {
		if err := conn.Close(); err != nil {
			lastErr = err
		}
		delete(d.conns, addr)
	}
	return lastErr
}
