package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shanemcd/repolens/pkg/relay"
	quictransport "github.com/shanemcd/repolens/pkg/transport/quic"
)

// newRelayClient runs a real relay.Peer behind in-memory pipes.
func newRelayClient(t *testing.T) *relay.Client {
	t.Helper()
	peer := relay.NewPeer(relay.PeerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return relay.NewClient(func(_ context.Context, streamType quictransport.StreamType) (net.Conn, error) {
		client, server := net.Pipe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			peer.HandleConn(ctx, streamType, server)
		}()
		return client, nil
	})
}

func fakeOllama(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaChatEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{\"message\":{\"content\":\"He\"}}\n{\"message\":{\"content\":\"llo\"}}\n{\"done\":true}\n")
	})
	srv := fakeOllama(t, mux)

	p := NewOllamaProvider(newRelayClient(t), srv.URL+"/")
	conv := NewConversation("", NewMessage(RoleUser, "hi"))

	var fragments []string
	for text, err := range p.Chat(context.Background(), "llama3.2", conv).Fragments() {
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		fragments = append(fragments, text)
	}
	if len(fragments) != 2 || fragments[0] != "He" || fragments[1] != "llo" {
		t.Errorf("fragments = %q, want [He llo]", fragments)
	}
	if strings.Join(fragments, "") != "Hello" {
		t.Errorf("accumulated = %q, want Hello", strings.Join(fragments, ""))
	}
}

func TestOllamaChatProviderError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	})
	srv := fakeOllama(t, mux)

	p := NewOllamaProvider(newRelayClient(t), srv.URL)
	text, err := p.Chat(context.Background(), "nope", Conversation{NewMessage(RoleUser, "hi")}).Collect()
	if text != "" {
		t.Errorf("non-2xx yielded %q", text)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || !strings.Contains(perr.Message, "model 'nope' not found") {
		t.Errorf("error = %v, want ProviderError with upstream message", err)
	}
}

func TestOllamaChatCancelClosesChannel(t *testing.T) {
	released := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{\"message\":{\"content\":\"first\"}}\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(released)
	})
	srv := fakeOllama(t, mux)

	p := NewOllamaProvider(newRelayClient(t), srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	s := p.Chat(ctx, "llama3.2", Conversation{NewMessage(RoleUser, "hi")})

	if text, err := s.Recv(); err != nil || text != "first" {
		t.Fatalf("Recv() = (%q, %v)", text, err)
	}
	cancel()
	if _, err := s.Recv(); !IsCancelled(err) {
		t.Errorf("Recv() after cancel = %v, want ErrCancelled", err)
	}
	s.Close()

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("outbound Ollama request survived cancellation")
	}
}

func TestOllamaListModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[{"name":"llama3.2:latest","model":"llama3.2:latest","size":1},{"name":"qwen2.5:7b"}]}`)
	})
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"version":"0.11.8"}`)
	})
	srv := fakeOllama(t, mux)

	p := NewOllamaProvider(newRelayClient(t), srv.URL)
	models, err := p.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.2:latest" || models[1] != "qwen2.5:7b" {
		t.Errorf("ListModels() = %v", models)
	}
	if !p.CheckConnection(context.Background()) {
		t.Error("CheckConnection() = false, want true")
	}
}

func TestOllamaListModelsErrors(t *testing.T) {
	statusServer := func(status int) string {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", status)
		})
		return fakeOllama(t, mux).URL
	}
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	tests := []struct {
		name    string
		baseURL string
		target  error
	}{
		{"ollama down", downURL, ErrUnreachable},
		{"unauthorized", statusServer(http.StatusUnauthorized), ErrUnauthorized},
		{"forbidden", statusServer(http.StatusForbidden), ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewOllamaProvider(newRelayClient(t), tt.baseURL)
			if _, err := p.ListModels(context.Background()); !errors.Is(err, tt.target) {
				t.Errorf("ListModels() error = %v, want %v", err, tt.target)
			}
			if p.CheckConnection(context.Background()) {
				t.Error("CheckConnection() = true, want false")
			}
		})
	}

	t.Run("server error", func(t *testing.T) {
		p := NewOllamaProvider(newRelayClient(t), statusServer(http.StatusInternalServerError))
		_, err := p.ListModels(context.Background())
		var perr *ProviderError
		if !errors.As(err, &perr) || perr.StatusCode != http.StatusInternalServerError {
			t.Errorf("ListModels() error = %v, want ProviderError 500", err)
		}
	})

	t.Run("relay unreachable", func(t *testing.T) {
		dead := relay.NewClient(func(context.Context, quictransport.StreamType) (net.Conn, error) {
			return nil, errors.New("dial: connection refused")
		})
		p := NewOllamaProvider(dead, DefaultOllamaURL)
		if _, err := p.ListModels(context.Background()); !errors.Is(err, ErrUnreachable) {
			t.Errorf("ListModels() error = %v, want ErrUnreachable", err)
		}
		_, err := p.Chat(context.Background(), "m", nil).Collect()
		var perr *ProviderError
		if !errors.As(err, &perr) || !errors.Is(err, ErrUnreachable) {
			t.Errorf("Chat() error = %v, want unreachable ProviderError", err)
		}
	})
}

// scriptedRelay serves every Channel by writing raw lines and then closing,
// or by waiting for the consumer to hang up when hold is set.
type scriptedRelay struct {
	lines []string
	hold  bool

	wg       sync.WaitGroup
	hungUp   chan struct{}
	requests chan relay.ChatRequest
}

func newScriptedRelay(t *testing.T, hold bool, lines ...string) *scriptedRelay {
	r := &scriptedRelay{lines: lines, hold: hold, hungUp: make(chan struct{}), requests: make(chan relay.ChatRequest, 1)}
	t.Cleanup(r.wg.Wait)
	return r
}

func (r *scriptedRelay) Fetch(context.Context, relay.FetchRequest) (*relay.FetchResponse, error) {
	return nil, errors.New("not supported")
}

func (r *scriptedRelay) OpenChannel(ctx context.Context, req relay.ChatRequest) (*relay.Channel, error) {
	client, server := net.Pipe()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer server.Close()
		r.requests <- req
		for _, line := range r.lines {
			if _, err := io.WriteString(server, line); err != nil {
				return
			}
		}
		if r.hold {
			io.Copy(io.Discard, server)
			close(r.hungUp)
		}
	}()
	return relay.NewChannel(client), nil
}

func TestOllamaDrainFrames(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		wantText  string
		wantErr   func(error) bool
		wantInErr string
	}{
		{
			name:     "done",
			lines:    []string{`{"type":"chunk","content":"a"}` + "\n", `{"type":"done"}` + "\n"},
			wantText: "a",
			wantErr:  func(err error) bool { return err == nil },
		},
		{
			name:     "frames after done are ignored",
			lines:    []string{`{"type":"done"}` + "\n", `{"type":"chunk","content":"late"}` + "\n"},
			wantText: "",
			wantErr:  func(err error) bool { return err == nil },
		},
		{
			name:     "implicit done after one chunk",
			lines:    []string{`{"type":"chunk","content":"only"}` + "\n"},
			wantText: "only",
			wantErr:  func(err error) bool { return err == nil },
		},
		{
			name:      "closed with zero frames",
			lines:     nil,
			wantErr:   func(err error) bool { var p *ProviderError; return errors.As(err, &p) },
			wantInErr: "connection closed unexpectedly",
		},
		{
			name:      "error frame",
			lines:     []string{`{"type":"chunk","content":"part"}` + "\n", `{"type":"error","error":"ollama API error: 500 - boom"}` + "\n"},
			wantText:  "part",
			wantErr:   func(err error) bool { var p *ProviderError; return errors.As(err, &p) },
			wantInErr: "boom",
		},
		{
			name:     "aborted frame",
			lines:    []string{`{"type":"aborted"}` + "\n"},
			wantErr:  IsCancelled,
			wantText: "",
		},
		{
			name:      "unknown frame",
			lines:     []string{`{"type":"bogus"}` + "\n"},
			wantErr:   func(err error) bool { var p *ProviderError; return errors.As(err, &p) },
			wantInErr: "protocol error",
		},
		{
			name:      "malformed frame",
			lines:     []string{"{not json\n"},
			wantErr:   func(err error) bool { var p *ProviderError; return errors.As(err, &p) },
			wantInErr: "protocol error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newScriptedRelay(t, false, tt.lines...)
			p := NewOllamaProvider(r, "")
			text, err := p.Chat(context.Background(), "m", Conversation{NewMessage(RoleUser, "hi")}).Collect()
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if !tt.wantErr(err) {
				t.Errorf("unexpected error %v", err)
			}
			if tt.wantInErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantInErr)) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantInErr)
			}
		})
	}
}

func TestOllamaChatRequestShape(t *testing.T) {
	r := newScriptedRelay(t, false, `{"type":"done"}`+"\n")
	p := NewOllamaProvider(r, "http://gpu-box:11434/")
	conv := NewConversation("system text", NewMessage(RoleUser, "q"), NewMessage(RoleAssistant, "a"))

	if _, err := p.Chat(context.Background(), "llama3.2", conv).Collect(); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	req := <-r.requests
	if req.Model != "llama3.2" || req.BaseURL != "http://gpu-box:11434" {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 3 || req.Messages[0].Role != "system" || req.Messages[2].Role != "assistant" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestOllamaCancelHangsUpChannel(t *testing.T) {
	r := newScriptedRelay(t, true, `{"type":"chunk","content":"x"}`+"\n")
	p := NewOllamaProvider(r, "")

	ctx, cancel := context.WithCancel(context.Background())
	s := p.Chat(ctx, "m", Conversation{NewMessage(RoleUser, "hi")})
	if _, err := s.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	cancel()

	select {
	case <-r.hungUp:
	case <-time.After(5 * time.Second):
		t.Fatal("channel was not closed on cancellation")
	}
	if _, err := s.Recv(); !IsCancelled(err) {
		t.Errorf("Recv() = %v, want ErrCancelled", err)
	}
	s.Close()
}

func TestOllamaSetBaseURL(t *testing.T) {
	p := NewOllamaProvider(nil, "")
	if p.BaseURL() != DefaultOllamaURL {
		t.Errorf("BaseURL() = %q, want default", p.BaseURL())
	}
	p.SetBaseURL("http://127.0.0.1:11434/")
	if p.BaseURL() != "http://127.0.0.1:11434" {
		t.Errorf("BaseURL() = %q, want trailing slash trimmed", p.BaseURL())
	}
}
