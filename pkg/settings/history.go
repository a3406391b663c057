package settings

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shanemcd/repolens/pkg/llm"
)

// ErrSessionNotFound is returned when deleting a session that does not
// exist.
var ErrSessionNotFound = errors.New("settings: chat session not found")

// Session is one saved chat about a repository.
type Session struct {
	ID        string
	RepoKey   string
	Title     string
	Messages  []llm.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// History stores chat sessions per repository. Durable backends live
// outside this package.
type History interface {
	// List returns the sessions for repoKey, most recently updated first.
	List(ctx context.Context, repoKey string) ([]Session, error)
	// Save inserts s or replaces the session with the same ID. An empty ID
	// is assigned one.
	Save(ctx context.Context, s Session) (Session, error)
	Delete(ctx context.Context, id string) error
}

// MemoryHistory keeps sessions for the life of the process.
type MemoryHistory struct {
	mu       sync.Mutex
	sessions map[string]Session
	now      func() time.Time
}

var _ History = (*MemoryHistory)(nil)

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (h *MemoryHistory) List(ctx context.Context, repoKey string) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Session
	for _, s := range h.sessions {
		if s.RepoKey == repoKey {
			s.Messages = slices.Clone(s.Messages)
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (h *MemoryHistory) Save(ctx context.Context, s Session) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if prev, ok := h.sessions[s.ID]; ok {
		s.CreatedAt = prev.CreatedAt
	} else if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Messages = slices.Clone(s.Messages)
	h.sessions[s.ID] = s
	return s, nil
}

func (h *MemoryHistory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(h.sessions, id)
	return nil
}
