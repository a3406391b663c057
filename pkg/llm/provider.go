// Package llm is the streaming chat gateway: one contract implemented by
// every backend, plus a Selector that routes calls to the active one.
package llm

import "context"

// Provider is an interchangeable chat backend.
type Provider interface {
	// Name returns the provider identifier used by the Selector.
	Name() string

	// ListModels returns the model identifiers the provider offers. It
	// fails with ErrUnreachable or ErrUnauthorized.
	ListModels(ctx context.Context) ([]string, error)

	// CheckConnection reports whether the provider is reachable. It never fails.
	CheckConnection(ctx context.Context) bool

	// Chat starts a streamed completion. Cancelling ctx cancels the stream.
	// Failures are reported by the returned Stream, never here.
	Chat(ctx context.Context, model string, conv Conversation) *Stream
}
