package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shanemcd/repolens/pkg/llm"
	"github.com/shanemcd/repolens/pkg/relay"
	"github.com/shanemcd/repolens/pkg/settings"
)

// gateway is the caller side: saved settings, the provider selector and the
// relay connection the local provider uses.
type gateway struct {
	store    *settings.FileStore
	settings settings.Settings
	selector *llm.Selector
	conn     *RelayConnection
}

// openGateway loads settings, applies per-invocation overrides and builds
// the selector. A missing relay certificate only disables the local
// provider; it reports unreachable when used.
func openGateway(ctx context.Context, cli *CLI) (*gateway, error) {
	store := settings.NewFileStore(cli.Settings.File)
	saved, err := store.Get(ctx)
	if err != nil {
		return nil, err
	}
	effective := cli.LLM.overrides().Apply(saved)

	g := &gateway{store: store, settings: effective}

	var r llm.Relay
	conn, err := ConnectToRelay(cli)
	if err != nil {
		slog.Debug("relay unavailable", "err", err)
		r = unavailableRelay{err: err}
	} else {
		g.conn = conn
		r = conn.Client
	}

	g.selector, err = newSelector(effective, r, cli.LLM.GeminiURL)
	if err != nil {
		g.Close()
		return nil, err
	}
	slog.Debug("gateway ready", "provider", g.selector.Active(), "model", effective.SelectedModel)
	return g, nil
}

// Close releases the relay connection.
func (g *gateway) Close() {
	if g.conn != nil {
		g.conn.Close()
	}
}

// newSelector registers every provider and activates the one s names.
func newSelector(s settings.Settings, r llm.Relay, geminiURL string) (*llm.Selector, error) {
	return llm.NewSelector(s.Provider,
		llm.NewOllamaProvider(r, s.OllamaURL),
		llm.NewGeminiProvider(llm.GeminiConfig{BaseURL: geminiURL, APIKey: s.GeminiAPIKey}),
		llm.NewEchoProvider(),
	)
}

// overrides turns non-empty flags into a settings patch.
func (c LLMConfig) overrides() settings.Patch {
	var p settings.Patch
	if c.Provider != "" {
		p.Provider = &c.Provider
	}
	if c.Model != "" {
		p.SelectedModel = &c.Model
	}
	if c.OllamaURL != "" {
		p.OllamaURL = &c.OllamaURL
	}
	if c.GeminiAPIKey != "" {
		p.GeminiAPIKey = &c.GeminiAPIKey
	}
	return p
}

// unavailableRelay fails every call with the reason the relay could not be
// configured.
type unavailableRelay struct {
	err error
}

func (u unavailableRelay) Fetch(ctx context.Context, req relay.FetchRequest) (*relay.FetchResponse, error) {
	return nil, fmt.Errorf("relay not configured: %w", u.err)
}

func (u unavailableRelay) OpenChannel(ctx context.Context, req relay.ChatRequest) (*relay.Channel, error) {
	return nil, fmt.Errorf("relay not configured: %w", u.err)
}
