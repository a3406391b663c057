// Package settings persists the user's gateway settings: which provider is
// active, where Ollama lives, and the credentials the providers need.
package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Settings is the full settings record.
type Settings struct {
	Provider      string `yaml:"provider"`
	OllamaURL     string `yaml:"ollama_url"`
	GeminiAPIKey  string `yaml:"gemini_api_key,omitempty"`
	SelectedModel string `yaml:"selected_model,omitempty"`
	GitHubToken   string `yaml:"github_token,omitempty"`
}

// Defaults returns the settings used before anything is saved.
func Defaults() Settings {
	return Settings{
		Provider:  "ollama",
		OllamaURL: "http://localhost:11434",
	}
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Provider      *string
	OllamaURL     *string
	GeminiAPIKey  *string
	SelectedModel *string
	GitHubToken   *string
}

// Apply returns s with the non-nil fields of p applied.
func (p Patch) Apply(s Settings) Settings {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&s.Provider, p.Provider)
	set(&s.OllamaURL, p.OllamaURL)
	set(&s.GeminiAPIKey, p.GeminiAPIKey)
	set(&s.SelectedModel, p.SelectedModel)
	set(&s.GitHubToken, p.GitHubToken)
	return s
}

// Store reads and updates settings.
type Store interface {
	Get(ctx context.Context) (Settings, error)
	Set(ctx context.Context, patch Patch) (Settings, error)
}

// FileStore keeps settings in a YAML file readable only by its owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file is created on the
// first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

// Get returns the saved settings merged over the defaults.
func (f *FileStore) Get(ctx context.Context) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (f *FileStore) load() (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Defaults(), fmt.Errorf("parse settings %s: %w", f.path, err)
	}
	return s, nil
}

// Set applies patch to the saved settings and writes them back.
func (f *FileStore) Set(ctx context.Context, patch Patch) (Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.load()
	if err != nil {
		return current, err
	}
	updated := patch.Apply(current)

	data, err := yaml.Marshal(updated)
	if err != nil {
		return current, fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return current, fmt.Errorf("create settings directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return current, fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return current, fmt.Errorf("replace settings: %w", err)
	}
	return updated, nil
}

var _ Store = (*FileStore)(nil)
