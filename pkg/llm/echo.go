package llm

import (
	"context"
	"strings"
	"time"
)

// EchoProvider is an offline provider that streams the last user message
// back word by word. It is useful for demos and for exercising consumers.
type EchoProvider struct {
	// Delay is the pause before each fragment.
	Delay time.Duration
}

// NewEchoProvider creates a new echo provider.
func NewEchoProvider() *EchoProvider {
	return &EchoProvider{}
}

// Name returns the provider identifier.
func (p *EchoProvider) Name() string {
	return "echo"
}

// ListModels returns the single echo model.
func (p *EchoProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"echo"}, nil
}

// CheckConnection always succeeds.
func (p *EchoProvider) CheckConnection(ctx context.Context) bool {
	return true
}

// Chat echoes the last user message.
func (p *EchoProvider) Chat(ctx context.Context, model string, conv Conversation) *Stream {
	content, _ := conv.LastUser()
	return newStream(ctx, func(ctx context.Context, emit emitFunc) error {
		for _, word := range strings.SplitAfter(content, " ") {
			if p.Delay > 0 {
				select {
				case <-time.After(p.Delay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if !emit(word) {
				return ErrCancelled
			}
		}
		return nil
	})
}
