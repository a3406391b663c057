package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"
)

func sseEvent(text string) string {
	return fmt.Sprintf("data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":%q}],\"role\":\"model\"}}]}\n\n", text)
}

func newGeminiServer(t *testing.T, handler http.HandlerFunc) (*GeminiProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGeminiProvider(GeminiConfig{BaseURL: srv.URL, APIKey: "test-key"}), srv
}

func TestGeminiChatStreamsEvents(t *testing.T) {
	type seen struct {
		path, query string
		body        []byte
	}
	requests := make(chan seen, 1)
	p, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests <- seen{r.URL.Path, r.URL.RawQuery, body}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, text := range []string{"Hel", "lo", " world"} {
			io.WriteString(w, sseEvent(text))
			w.(http.Flusher).Flush()
		}
	})

	conv := Conversation{
		NewMessage(RoleSystem, "You are helpful."),
		NewMessage(RoleUser, "hi"),
	}
	var fragments []string
	for text, err := range p.Chat(context.Background(), "gemini-2.0-flash", conv).Fragments() {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		fragments = append(fragments, text)
	}

	if strings.Join(fragments, "|") != "Hel|lo| world" {
		t.Errorf("fragments = %q", fragments)
	}
	req := <-requests
	gotPath, gotQuery, gotBody := req.path, req.query, req.body
	if gotPath != "/models/gemini-2.0-flash:streamGenerateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotQuery, "alt=sse") || !strings.Contains(gotQuery, "key=test-key") {
		t.Errorf("query = %q", gotQuery)
	}
	if got := gjson.GetBytes(gotBody, "contents.0.parts.0.text").String(); got != "You are helpful.\n\n---\n\nhi" {
		t.Errorf("first turn = %q", got)
	}
	if got := gjson.GetBytes(gotBody, "generationConfig.maxOutputTokens").Int(); got != 8192 {
		t.Errorf("maxOutputTokens = %d", got)
	}
	if got := gjson.GetBytes(gotBody, "generationConfig.temperature").Float(); got < 0.69 || got > 0.71 {
		t.Errorf("temperature = %v", got)
	}
}

func TestGeminiChatIgnoresNoise(t *testing.T) {
	p, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, ": keep-alive\n\n")
		io.WriteString(w, "data: {not json\n\n")
		io.WriteString(w, "data: {\"candidates\":[{\"finishReason\":\"STOP\"}]}\n\n")
		io.WriteString(w, "event: ping\n")
		io.WriteString(w, sseEvent("only"))
		io.WriteString(w, "data: [DONE]\n\n")
	})

	text, err := p.Chat(context.Background(), "gemini-2.5-flash", Conversation{NewMessage(RoleUser, "hi")}).Collect()
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if text != "only" {
		t.Errorf("text = %q, want only", text)
	}
}

func TestGeminiChatEventSplitAcrossWrites(t *testing.T) {
	event := sseEvent("joined")
	p, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < len(event); i += 7 {
			io.WriteString(w, event[i:min(i+7, len(event))])
			w.(http.Flusher).Flush()
		}
	})

	text, err := p.Chat(context.Background(), "gemini-2.5-flash", Conversation{NewMessage(RoleUser, "hi")}).Collect()
	if err != nil || text != "joined" {
		t.Errorf("Collect() = (%q, %v), want joined", text, err)
	}
}

func TestGeminiChatHTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantMsg    string
		wantUnauth bool
	}{
		{"structured", http.StatusBadRequest, `{"error":{"code":400,"message":"API key not valid"}}`, "API key not valid", false},
		{"raw body", http.StatusInternalServerError, "upstream exploded", "upstream exploded", false},
		{"empty body", http.StatusServiceUnavailable, "", "gemini API error: 503", false},
		{"forbidden", http.StatusForbidden, `{"error":{"message":"denied"}}`, "denied", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			text, err := p.Chat(context.Background(), "gemini-2.5-flash", Conversation{NewMessage(RoleUser, "hi")}).Collect()
			if text != "" {
				t.Errorf("non-2xx yielded text %q", text)
			}
			var perr *ProviderError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want ProviderError", err)
			}
			if perr.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", perr.Message, tt.wantMsg)
			}
			if perr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", perr.StatusCode, tt.status)
			}
			if got := errors.Is(err, ErrUnauthorized); got != tt.wantUnauth {
				t.Errorf("errors.Is(ErrUnauthorized) = %v, want %v", got, tt.wantUnauth)
			}
		})
	}
}

func TestGeminiChatWithoutKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), "gemini-2.5-flash", Conversation{NewMessage(RoleUser, "hi")}).Collect()
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if hits.Load() != 0 {
		t.Error("request sent without API key")
	}
	if p.CheckConnection(context.Background()) {
		t.Error("CheckConnection() = true without API key")
	}
}

func TestGeminiChatUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	p := NewGeminiProvider(GeminiConfig{BaseURL: srv.URL, APIKey: "k"})
	_, err := p.Chat(context.Background(), "gemini-2.5-flash", Conversation{NewMessage(RoleUser, "hi")}).Collect()
	var perr *ProviderError
	if !errors.As(err, &perr) || !errors.Is(err, ErrUnreachable) {
		t.Errorf("error = %v, want unreachable ProviderError", err)
	}
}

func TestGeminiChatCancelAbortsConnection(t *testing.T) {
	aborted := make(chan struct{})
	p, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, sseEvent("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(aborted)
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := p.Chat(ctx, "gemini-2.5-flash", Conversation{NewMessage(RoleUser, "hi")})
	if text, err := s.Recv(); err != nil || text != "first" {
		t.Fatalf("Recv() = (%q, %v)", text, err)
	}
	cancel()
	if _, err := s.Recv(); !IsCancelled(err) {
		t.Errorf("Recv() after cancel = %v, want ErrCancelled", err)
	}
	s.Close()

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("server connection not aborted after cancel")
	}
}

func TestGeminiCheckConnection(t *testing.T) {
	for _, tt := range []struct {
		status int
		want   bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	} {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			p, _ := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/models" || r.URL.Query().Get("key") != "test-key" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL)
				}
				w.WriteHeader(tt.status)
			})
			if got := p.CheckConnection(context.Background()); got != tt.want {
				t.Errorf("CheckConnection() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGeminiListModels(t *testing.T) {
	p := NewGeminiProvider(GeminiConfig{})
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 4 || models[0] != "gemini-2.5-flash" {
		t.Errorf("ListModels() = %v", models)
	}
	models[0] = "mutated"
	if GeminiModels[0] != "gemini-2.5-flash" {
		t.Error("ListModels() exposed the shared catalog")
	}
}

func TestGeminiContents(t *testing.T) {
	type turn struct {
		role genai.Role
		text string
	}
	tests := []struct {
		name string
		conv Conversation
		want []turn
	}{
		{
			name: "system merged into first user turn",
			conv: Conversation{
				{Role: RoleSystem, Content: "ctx"},
				{Role: RoleUser, Content: "q1"},
				{Role: RoleAssistant, Content: "a1"},
				{Role: RoleUser, Content: "q2"},
			},
			want: []turn{{genai.RoleUser, "ctx\n\n---\n\nq1"}, {genai.RoleModel, "a1"}, {genai.RoleUser, "q2"}},
		},
		{
			name: "leading assistant turn",
			conv: Conversation{
				{Role: RoleSystem, Content: "ctx"},
				{Role: RoleAssistant, Content: "hello"},
				{Role: RoleUser, Content: "q"},
			},
			want: []turn{{genai.RoleModel, "hello"}, {genai.RoleUser, "ctx\n\n---\n\nq"}},
		},
		{
			name: "no user turn",
			conv: Conversation{{Role: RoleSystem, Content: "ctx"}},
			want: []turn{{genai.RoleUser, "ctx"}},
		},
		{
			name: "no system turn",
			conv: Conversation{{Role: RoleUser, Content: "q"}},
			want: []turn{{genai.RoleUser, "q"}},
		},
		{
			name: "several system turns",
			conv: Conversation{{Role: RoleSystem, Content: "a"}, {Role: RoleSystem, Content: "b"}, {Role: RoleUser, Content: "q"}},
			want: []turn{{genai.RoleUser, "a\n\nb\n\n---\n\nq"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := geminiContents(tt.conv)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d turns, want %d", len(got), len(tt.want))
			}
			for i, w := range tt.want {
				if got[i].Role != string(w.role) || got[i].Parts[0].Text != w.text {
					t.Errorf("turn %d = %s %q, want %s %q", i, got[i].Role, got[i].Parts[0].Text, w.role, w.text)
				}
			}
		})
	}
}
