package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shanemcd/repolens/pkg/control"
	quictransport "github.com/shanemcd/repolens/pkg/transport/quic"
)

// DialFunc opens a new stream of the given type to the peer.
type DialFunc func(ctx context.Context, streamType quictransport.StreamType) (net.Conn, error)

// Client is the restricted caller's handle on a Peer.
type Client struct {
	dial DialFunc

	mu      sync.Mutex
	conn    *grpc.ClientConn
	control control.ControlClient
}

// NewClient creates a Client that opens streams with dial.
func NewClient(dial DialFunc) *Client {
	return &Client{dial: dial}
}

// Fetch relays one HTTP request through the peer. The returned error covers
// only the relay itself; a failed upstream request comes back as
// FetchResponse.OK == false.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	if req.Type == "" {
		req.Type = FetchType
	}

	var resp FetchResponse
	if err := c.roundTrip(ctx, quictransport.StreamTypeFetch, req, &resp); err != nil {
		return nil, fmt.Errorf("relay fetch: %w", err)
	}
	return &resp, nil
}

// OpenChannel opens a chat Channel and sends req on it. The caller owns the
// Channel and must Close it.
func (c *Client) OpenChannel(ctx context.Context, req ChatRequest) (*Channel, error) {
	conn, err := c.dial(ctx, quictransport.StreamTypeChat)
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	ch := NewChannel(conn)
	if err := ch.Send(req); err != nil {
		ch.Close()
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	return ch, nil
}

// Ping measures the round trip to the peer.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	cc, err := c.controlClient()
	if err != nil {
		return 0, err
	}
	start := time.Now()
	if _, err := cc.Ping(ctx, &control.PingRequest{Timestamp: start.UnixNano()}); err != nil {
		return 0, fmt.Errorf("control ping: %w", err)
	}
	return time.Since(start), nil
}

// Status fetches the peer's lifecycle status.
func (c *Client) Status(ctx context.Context) (*control.StatusResponse, error) {
	cc, err := c.controlClient()
	if err != nil {
		return nil, err
	}
	resp, err := cc.Status(ctx, &control.StatusRequest{})
	if err != nil {
		return nil, fmt.Errorf("control status: %w", err)
	}
	return resp, nil
}

// Shutdown asks the peer to stop.
func (c *Client) Shutdown(ctx context.Context, req control.ShutdownRequest) (*control.ShutdownResponse, error) {
	cc, err := c.controlClient()
	if err != nil {
		return nil, err
	}
	resp, err := cc.Shutdown(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("control shutdown: %w", err)
	}
	return resp, nil
}

// Close releases the control connection, if one was opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.control = nil
	return err
}

// controlClient lazily creates the gRPC connection that rides control
// streams.
func (c *Client) controlClient() (control.ControlClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.control != nil {
		return c.control, nil
	}
	conn, err := grpc.NewClient("passthrough:///relay",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return c.dial(ctx, quictransport.StreamTypeControl)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("control client: %w", err)
	}
	c.conn = conn
	c.control = control.NewControlClient(conn)
	return c.control, nil
}

// roundTrip writes one request and reads one response on a fresh stream.
// Cancelling ctx closes the stream.
func (c *Client) roundTrip(ctx context.Context, streamType quictransport.StreamType, req, resp any) error {
	conn, err := c.dial(ctx, streamType)
	if err != nil {
		return err
	}
	ch := NewChannel(conn)
	defer ch.Close()

	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	if err := ch.Send(req); err != nil {
		return err
	}
	if err := ch.Recv(resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
