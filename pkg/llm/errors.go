package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnreachable means no network path to the provider exists.
	ErrUnreachable = errors.New("provider unreachable")
	// ErrUnauthorized means the credential is missing or was rejected.
	ErrUnauthorized = errors.New("provider credentials missing or invalid")
	// ErrCancelled ends a stream the caller cancelled. It is a normal
	// terminal condition, not a failure.
	ErrCancelled = errors.New("chat cancelled")
)

// ProviderError reports a failure the provider returned or a transport or
// protocol failure while talking to it.
type ProviderError struct {
	Provider   string
	StatusCode int // HTTP status, 0 when no response was received
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap exposes ErrUnauthorized for 401/403 responses and the underlying
// cause otherwise.
func (e *ProviderError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return e.Err
}

// NewProtocolError reports a peer that broke the framing rules.
func NewProtocolError(provider, detail string) *ProviderError {
	return &ProviderError{Provider: provider, Message: "protocol error: " + detail}
}

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
