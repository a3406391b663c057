package llm

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Selector routes every call to the active provider. SetProvider is the
// only way to change which one that is.
type Selector struct {
	providers map[string]Provider

	mu     sync.RWMutex
	active string
}

// NewSelector registers providers by Name and activates active.
func NewSelector(active string, providers ...Provider) (*Selector, error) {
	s := &Selector{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	if err := s.SetProvider(active); err != nil {
		return nil, err
	}
	return s, nil
}

// SetProvider switches the active provider. Chats already in progress keep
// the provider they started with.
func (s *Selector) SetProvider(id string) error {
	if _, ok := s.providers[id]; !ok {
		return fmt.Errorf("unknown provider %q (available: %v)", id, s.Names())
	}
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
	return nil
}

// Active returns the identifier of the active provider.
func (s *Selector) Active() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Provider returns a registered provider by identifier.
func (s *Selector) Provider(id string) (Provider, bool) {
	p, ok := s.providers[id]
	return p, ok
}

// Names returns the registered identifiers in sorted order.
func (s *Selector) Names() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *Selector) current() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers[s.active]
}

// Name reports the selector itself, so a Selector can stand in for a
// Provider.
func (s *Selector) Name() string {
	return "selector"
}

func (s *Selector) ListModels(ctx context.Context) ([]string, error) {
	return s.current().ListModels(ctx)
}

func (s *Selector) CheckConnection(ctx context.Context) bool {
	return s.current().CheckConnection(ctx)
}

func (s *Selector) Chat(ctx context.Context, model string, conv Conversation) *Stream {
	return s.current().Chat(ctx, model, conv)
}

var _ Provider = (*Selector)(nil)
