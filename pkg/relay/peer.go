package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/shanemcd/repolens/pkg/control"
	quictransport "github.com/shanemcd/repolens/pkg/transport/quic"
)

// DefaultMaxFetchBody caps a buffered one-shot response.
const DefaultMaxFetchBody = 10 << 20

// chunkTextPath locates the incremental text in a local provider record.
const chunkTextPath = "message.content"

// PeerConfig configures a Peer.
type PeerConfig struct {
	// HTTPClient performs outbound requests. It must not carry a cookie jar.
	HTTPClient *http.Client
	// MaxFetchBody bounds one-shot response bodies. Zero means
	// DefaultMaxFetchBody.
	MaxFetchBody int64
	// State, when set, counts open chat Channels.
	State *control.State
}

// Peer relays restricted callers' requests to the local network.
type Peer struct {
	client  *http.Client
	maxBody int64
	state   *control.State

	wg sync.WaitGroup
}

// NewPeer creates a Peer.
func NewPeer(cfg PeerConfig) *Peer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	maxBody := cfg.MaxFetchBody
	if maxBody <= 0 {
		maxBody = DefaultMaxFetchBody
	}
	return &Peer{
		client:  client,
		maxBody: maxBody,
		state:   cfg.State,
	}
}

// Serve runs one accept loop per stream type until ctx is cancelled or a
// listener fails, then waits for in-flight exchanges to finish. Handlers
// share ctx, so cancelling it aborts every open Channel.
func (p *Peer) Serve(ctx context.Context, listeners map[quictransport.StreamType]net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	for streamType, ln := range listeners {
		g.Go(func() error {
			for {
				conn, err := ln.Accept()
				if err != nil {
					if gctx.Err() != nil || errors.Is(err, net.ErrClosed) {
						return nil
					}
					return fmt.Errorf("accept %s stream: %w", streamType, err)
				}
				p.wg.Add(1)
				go func() {
					defer p.wg.Done()
					p.HandleConn(gctx, streamType, conn)
				}()
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		for _, ln := range listeners {
			ln.Close()
		}
		return nil
	})

	err := g.Wait()
	p.wg.Wait()
	return err
}

// HandleConn dispatches one accepted stream by type and closes it when done.
func (p *Peer) HandleConn(ctx context.Context, streamType quictransport.StreamType, conn net.Conn) {
	switch streamType {
	case quictransport.StreamTypeFetch:
		p.HandleFetch(ctx, conn)
	case quictransport.StreamTypeChat:
		p.HandleChat(ctx, conn)
	default:
		slog.Warn("unsupported stream type", "type", streamType)
		conn.Close()
	}
}

// HandleFetch serves one relayed request on conn.
func (p *Peer) HandleFetch(ctx context.Context, conn net.Conn) {
	ch := NewChannel(conn)
	defer ch.Close()

	var req FetchRequest
	if err := ch.Recv(&req); err != nil {
		slog.Debug("read fetch request", "err", err)
		return
	}

	resp := p.Fetch(ctx, req)
	if err := ch.Send(resp); err != nil {
		slog.Debug("write fetch response", "err", err)
	}
}

// Fetch performs req and buffers the whole response. Only the Content-Type
// header is forwarded and no credentials are attached.
func (p *Peer) Fetch(ctx context.Context, req FetchRequest) FetchResponse {
	method := strings.ToUpper(req.Options.Method)
	if method == "" {
		method = http.MethodGet
	}
	slog.Debug("relay fetch", "method", method, "url", req.URL)

	var body io.Reader
	if req.Options.Body != "" && method != http.MethodGet {
		body = strings.NewReader(req.Options.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return FetchResponse{Error: fmt.Sprintf("create request: %v", err)}
	}
	for k, v := range req.Options.Headers {
		if strings.EqualFold(k, "Content-Type") {
			httpReq.Header.Set("Content-Type", v)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		slog.Debug("relay fetch failed", "url", req.URL, "err", err)
		return FetchResponse{Error: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
	if err != nil {
		return FetchResponse{Error: fmt.Sprintf("read body: %v", err)}
	}
	if int64(len(data)) > p.maxBody {
		return FetchResponse{Error: fmt.Sprintf("response body exceeds %d bytes", p.maxBody)}
	}

	return FetchResponse{
		OK:         resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Data:       string(data),
	}
}

func statusText(resp *http.Response) string {
	// resp.Status is "200 OK"; keep the reason phrase only.
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// HandleChat serves one Channel: it reads a ChatRequest, streams the local
// provider's reply as chunk frames and ends with exactly one terminal frame.
// The consumer closing its end cancels the outbound request.
func (p *Peer) HandleChat(ctx context.Context, conn net.Conn) {
	ch := NewChannel(conn)
	w := &frameWriter{ch: ch}

	if p.state != nil {
		p.state.ChannelOpened()
		defer p.state.ChannelClosed()
	}

	var req ChatRequest
	if err := ch.Recv(&req); err != nil {
		slog.Debug("read chat request", "err", err)
		if !errors.Is(err, io.EOF) {
			w.send(Frame{Type: FrameError, Error: fmt.Sprintf("invalid chat request: %v", err)})
		}
		ch.Close()
		return
	}
	if p.state != nil && p.state.Phase() >= control.PhaseDraining {
		w.send(Frame{Type: FrameError, Error: "relay is shutting down"})
		ch.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The consumer writes nothing after the request, so any return from
	// Recv means it went away.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		var discard json.RawMessage
		for ch.Recv(&discard) == nil {
		}
		cancel()
	}()

	err := p.relayChat(ctx, req, w)
	var frame Frame
	switch {
	case err == nil:
		frame = Frame{Type: FrameDone}
	case ctx.Err() != nil:
		slog.Debug("chat aborted", "model", req.Model)
		frame = Frame{Type: FrameAborted}
	default:
		slog.Error("chat relay failed", "model", req.Model, "err", err)
		frame = Frame{Type: FrameError, Error: err.Error()}
	}
	if err := w.send(frame); err != nil {
		slog.Debug("write terminal frame", "type", frame.Type, "err", err)
	}

	ch.Close()
	<-watchDone
}

func (p *Peer) relayChat(ctx context.Context, req ChatRequest, w *frameWriter) error {
	slog.Debug("relay chat", "model", req.Model, "messages", len(req.Messages), "base_url", req.BaseURL)

	stream := true
	outbound := api.ChatRequest{
		Model:    req.Model,
		Messages: make([]api.Message, 0, len(req.Messages)),
		Stream:   &stream,
	}
	for _, m := range req.Messages {
		outbound.Messages = append(outbound.Messages, api.Message{Role: m.Role, Content: m.Content})
	}
	body, err := json.Marshal(outbound)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(req.BaseURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
		return fmt.Errorf("ollama API error: %d - %s", resp.StatusCode, errBody)
	}

	emit := func(line []byte) error {
		text := chunkText(line)
		if text == "" {
			return nil
		}
		return w.send(Frame{Type: FrameChunk, Content: text})
	}

	var rf Reframer
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range rf.Feed(buf[:n]) {
				if err := emit(line); err != nil {
					return err
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if last := rf.Flush(); last != nil {
		return emit(last)
	}
	return nil
}

// chunkText extracts the incremental text from one record. Unparseable or
// text-less records yield "".
func chunkText(line []byte) string {
	if !gjson.ValidBytes(line) {
		return ""
	}
	return gjson.GetBytes(line, chunkTextPath).String()
}
