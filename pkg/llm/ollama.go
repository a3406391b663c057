package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/ollama/ollama/api"

	"github.com/shanemcd/repolens/pkg/relay"
)

// DefaultOllamaURL is where a local Ollama server listens by default.
const DefaultOllamaURL = "http://localhost:11434"

// Relay is the privileged peer an OllamaProvider reaches Ollama through.
// *relay.Client satisfies it.
type Relay interface {
	Fetch(ctx context.Context, req relay.FetchRequest) (*relay.FetchResponse, error)
	OpenChannel(ctx context.Context, req relay.ChatRequest) (*relay.Channel, error)
}

// OllamaProvider talks to a local Ollama server. It never dials Ollama
// itself: one-shot calls are relayed fetches and each chat is a relay
// Channel.
type OllamaProvider struct {
	relay Relay

	mu      sync.RWMutex
	baseURL string
}

// NewOllamaProvider creates a provider that reaches baseURL through r.
func NewOllamaProvider(r Relay, baseURL string) *OllamaProvider {
	p := &OllamaProvider{relay: r}
	p.SetBaseURL(baseURL)
	return p
}

// Name returns the provider identifier.
func (p *OllamaProvider) Name() string {
	return "ollama"
}

// SetBaseURL points later calls at a different Ollama server.
func (p *OllamaProvider) SetBaseURL(baseURL string) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	p.mu.Lock()
	p.baseURL = strings.TrimSuffix(baseURL, "/")
	p.mu.Unlock()
}

// BaseURL returns the Ollama server address.
func (p *OllamaProvider) BaseURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.baseURL
}

// ListModels returns the names of the locally installed models.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	resp, err := p.fetch(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, p.statusError(resp)
	}

	var list api.ListResponse
	if err := json.Unmarshal([]byte(resp.Data), &list); err != nil {
		return nil, &ProviderError{Provider: p.Name(), StatusCode: resp.Status, Message: "decode model list: " + err.Error(), Err: err}
	}
	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// CheckConnection reports whether the relay can reach Ollama.
func (p *OllamaProvider) CheckConnection(ctx context.Context) bool {
	resp, err := p.fetch(ctx, "/api/version")
	if err != nil {
		slog.Debug("ollama connection check failed", "err", err)
		return false
	}
	return resp.OK
}

// fetch relays a GET. Failing to reach either the relay or Ollama is
// ErrUnreachable.
func (p *OllamaProvider) fetch(ctx context.Context, path string) (*relay.FetchResponse, error) {
	resp, err := p.relay.Fetch(ctx, relay.FetchRequest{
		Type:    relay.FetchType,
		URL:     p.BaseURL() + path,
		Options: relay.FetchOptions{Method: http.MethodGet},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !resp.OK && resp.Status == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, resp.Error)
	}
	return resp, nil
}

func (p *OllamaProvider) statusError(resp *relay.FetchResponse) error {
	msg := strings.TrimSpace(resp.Data)
	if msg == "" {
		msg = fmt.Sprintf("%d %s", resp.Status, resp.StatusText)
	}
	return &ProviderError{Provider: p.Name(), StatusCode: resp.Status, Message: msg}
}

// Chat relays one chat exchange over a dedicated Channel. Cancelling ctx
// closes the Channel right away, which the peer sees as a disconnect and
// answers by aborting its request to Ollama.
func (p *OllamaProvider) Chat(ctx context.Context, model string, conv Conversation) *Stream {
	req := relay.ChatRequest{
		Model:    model,
		Messages: make([]relay.Message, 0, len(conv)),
		BaseURL:  p.BaseURL(),
	}
	for _, m := range conv {
		req.Messages = append(req.Messages, relay.Message{Role: string(m.Role), Content: m.Content})
	}

	slog.Debug("ollama chat request", "model", model, "message_count", len(conv))

	return newStream(ctx, func(ctx context.Context, emit emitFunc) error {
		ch, err := p.relay.OpenChannel(ctx, req)
		if err != nil {
			return &ProviderError{Provider: p.Name(), Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
		}
		defer ch.Close()
		stop := context.AfterFunc(ctx, func() { ch.Close() })
		defer stop()

		return p.drain(ch, emit)
	})
}

// drain turns frames into fragments until a terminal frame or disconnect.
func (p *OllamaProvider) drain(ch *relay.Channel, emit emitFunc) error {
	received := 0
	for {
		frame, err := ch.RecvFrame()
		if errors.Is(err, relay.ErrMalformed) {
			return NewProtocolError(p.Name(), err.Error())
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("channel read failed", "err", err)
			}
			if received > 0 {
				slog.Warn("channel closed without terminal frame, treating as done", "chunks", received)
				return nil
			}
			slog.Warn("channel closed without terminal frame", "err", err)
			return &ProviderError{Provider: p.Name(), Message: "connection closed unexpectedly", Err: err}
		}

		switch frame.Type {
		case relay.FrameChunk:
			if frame.Content == "" {
				continue
			}
			received++
			if !emit(frame.Content) {
				return ErrCancelled
			}
		case relay.FrameDone:
			return nil
		case relay.FrameError:
			msg := frame.Error
			if msg == "" {
				msg = "unknown error"
			}
			slog.Error("ollama chat failed", "err", msg)
			return &ProviderError{Provider: p.Name(), Message: msg}
		case relay.FrameAborted:
			return ErrCancelled
		default:
			return NewProtocolError(p.Name(), fmt.Sprintf("unexpected frame type %q", frame.Type))
		}
	}
}
