package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

const (
	// DefaultGeminiBaseURL is the public Generative Language endpoint.
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	geminiTextPath  = "candidates.0.content.parts.0.text"
	geminiErrorPath = "error.message"

	// systemSeparator joins the system prompt onto the first user turn.
	systemSeparator = "\n\n---\n\n"
)

// GeminiModels is the published catalog offered without a network call.
var GeminiModels = []string{
	"gemini-2.5-flash",
	"gemini-2.0-flash",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// GeminiProvider streams completions straight from the Gemini API over
// server-sent events.
type GeminiProvider struct {
	baseURL string
	client  *http.Client

	mu     sync.RWMutex
	apiKey string
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg GeminiConfig) *GeminiProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		apiKey:  cfg.APIKey,
	}
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// SetAPIKey replaces the API key used by later calls.
func (p *GeminiProvider) SetAPIKey(key string) {
	p.mu.Lock()
	p.apiKey = key
	p.mu.Unlock()
}

func (p *GeminiProvider) key() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.apiKey
}

// ListModels returns the static catalog. Whether the key can use it is
// CheckConnection's job.
func (p *GeminiProvider) ListModels(ctx context.Context) ([]string, error) {
	return append([]string(nil), GeminiModels...), nil
}

// CheckConnection reports whether an authenticated model listing succeeds.
// A missing or rejected key is reported the same as an unreachable API.
func (p *GeminiProvider) CheckConnection(ctx context.Context) bool {
	key := p.key()
	if key == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models?key="+url.QueryEscape(key), nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		slog.Debug("gemini connection check failed", "err", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// geminiRequest is the streamGenerateContent request body.
type geminiRequest struct {
	Contents         []*genai.Content        `json:"contents"`
	GenerationConfig *genai.GenerationConfig `json:"generationConfig"`
}

// Chat streams a completion for conv.
func (p *GeminiProvider) Chat(ctx context.Context, model string, conv Conversation) *Stream {
	key := p.key()
	if key == "" {
		return failedStream(ctx, &ProviderError{
			Provider: p.Name(),
			Message:  "API key not configured",
			Err:      ErrUnauthorized,
		})
	}

	slog.Debug("gemini chat request", "model", model, "message_count", len(conv))

	body, err := json.Marshal(geminiRequest{
		Contents: geminiContents(conv),
		GenerationConfig: &genai.GenerationConfig{
			Temperature:     genai.Ptr[float32](0.7),
			MaxOutputTokens: 8192,
		},
	})
	if err != nil {
		return failedStream(ctx, &ProviderError{Provider: p.Name(), Message: "marshal request: " + err.Error(), Err: err})
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		p.baseURL, url.PathEscape(model), url.QueryEscape(key))

	return newStream(ctx, func(ctx context.Context, emit emitFunc) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return &ProviderError{Provider: p.Name(), Message: "create request: " + err.Error(), Err: err}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := p.client.Do(req)
		if err != nil {
			return &ProviderError{Provider: p.Name(), Message: err.Error(), Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			msg := geminiErrorMessage(resp.StatusCode, errBody)
			slog.Error("gemini API error", "status", resp.StatusCode, "message", msg)
			return &ProviderError{Provider: p.Name(), StatusCode: resp.StatusCode, Message: msg}
		}

		events := newSSEScanner(resp.Body)
		for {
			data, err := events.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return &ProviderError{Provider: p.Name(), Message: err.Error(), Err: err}
			}
			if !gjson.Valid(data) {
				continue
			}
			if !emit(gjson.Get(data, geminiTextPath).String()) {
				return ErrCancelled
			}
		}
	})
}

// geminiErrorMessage prefers the structured error message, then the raw
// body, then the status code.
func geminiErrorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, geminiErrorPath).String(); msg != "" {
			return msg
		}
	}
	if raw := strings.TrimSpace(string(body)); raw != "" {
		return raw
	}
	return fmt.Sprintf("gemini API error: %d", status)
}

// geminiContents maps a conversation onto Gemini turns. Gemini has no
// system role: system text is prepended to the first user turn, or sent as
// a user turn of its own when there is none. assistant becomes model.
func geminiContents(conv Conversation) []*genai.Content {
	var system []string
	for _, m := range conv {
		if m.Role == RoleSystem && m.Content != "" {
			system = append(system, m.Content)
		}
	}
	systemText := strings.Join(system, "\n\n")

	contents := make([]*genai.Content, 0, len(conv))
	for _, m := range conv {
		switch m.Role {
		case RoleSystem:
			continue
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			text := m.Content
			if systemText != "" {
				text = systemText + systemSeparator + text
				systemText = ""
			}
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
	}
	if systemText != "" {
		contents = append([]*genai.Content{genai.NewContentFromText(systemText, genai.RoleUser)}, contents...)
	}
	return contents
}
