package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"

	"github.com/shanemcd/repolens/pkg/llm"
	"github.com/shanemcd/repolens/pkg/prompt"
	"github.com/shanemcd/repolens/pkg/settings"
)

var (
	userLabel      = color.New(color.FgGreen, color.Bold)
	assistantLabel = color.New(color.FgCyan, color.Bold)
	noticeColor    = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
)

// cancelledNotice is appended to a reply the user stopped.
const cancelledNotice = "(response stopped)"

// ChatCmd chats with the active provider. With a message it answers once;
// without one it reads turns from stdin until EOF. Ctrl-C stops the reply
// in progress.
type ChatCmd struct {
	Context string   `help:"Repository context file (YAML) used to build the system prompt" type:"existingfile"`
	Message []string `arg:"" optional:"" help:"Message to send"`
}

// Run executes the chat command.
func (c *ChatCmd) Run(cli *CLI) error {
	ctx := context.Background()

	g, err := openGateway(ctx, cli)
	if err != nil {
		return err
	}
	defer g.Close()

	model, err := resolveModel(ctx, g.selector, g.settings.SelectedModel)
	if err != nil {
		return err
	}

	var system, repoKey string
	if c.Context != "" {
		rc, err := prompt.Load(c.Context)
		if err != nil {
			return err
		}
		system = prompt.SystemPrompt(rc)
		repoKey = rc.Owner + "/" + rc.Repo
	}

	s := &chatSession{
		provider: g.selector,
		model:    model,
		conv:     llm.NewConversation(system),
		out:      os.Stdout,
		history:  settings.NewMemoryHistory(),
		session:  settings.Session{RepoKey: repoKey},
	}

	if len(c.Message) > 0 {
		_, err := s.turn(ctx, strings.Join(c.Message, " "))
		if errors.Is(err, llm.ErrCancelled) {
			return nil
		}
		return err
	}
	return s.repl(ctx, os.Stdin)
}

// resolveModel returns saved, or the provider's first model when nothing
// is saved.
func resolveModel(ctx context.Context, p llm.Provider, saved string) (string, error) {
	if saved != "" {
		return saved, nil
	}
	models, err := p.ListModels(ctx)
	if err != nil {
		return "", fmt.Errorf("list models: %w", err)
	}
	if len(models) == 0 {
		return "", fmt.Errorf("provider %s has no models; pull one or pass --llm-model", providerName(p))
	}
	return models[0], nil
}

// chatSession keeps the history of one conversation. When history is set,
// every completed turn is saved to it.
type chatSession struct {
	provider llm.Provider
	model    string
	conv     llm.Conversation
	out      io.Writer

	history settings.History
	session settings.Session
}

// repl reads one user turn per line. Ctrl-C at the prompt exits.
func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		userLabel.Fprint(s.out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := s.turn(ctx, line); err != nil && !errors.Is(err, llm.ErrCancelled) {
			errorColor.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// turn sends one user message and streams the reply. The reply is kept in
// the history even when stopped early, followed by a notice.
func (s *chatSession) turn(ctx context.Context, message string) (string, error) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	s.conv = append(s.conv, llm.NewMessage(llm.RoleUser, message))

	stream := s.provider.Chat(turnCtx, s.model, s.conv)
	defer stream.Close()

	assistantLabel.Fprint(s.out, providerName(s.provider)+"> ")

	var reply strings.Builder
	var streamErr error
	for text, err := range stream.Fragments() {
		if err != nil {
			streamErr = err
			break
		}
		reply.WriteString(text)
		fmt.Fprint(s.out, text)
	}
	fmt.Fprintln(s.out)

	switch {
	case streamErr == nil:
	case errors.Is(streamErr, llm.ErrCancelled):
		noticeColor.Fprintln(s.out, cancelledNotice)
		if reply.Len() == 0 {
			s.conv = s.conv[:len(s.conv)-1]
			return "", streamErr
		}
	default:
		s.conv = s.conv[:len(s.conv)-1]
		return "", describe(streamErr)
	}

	s.conv = append(s.conv, llm.NewMessage(llm.RoleAssistant, reply.String()))
	s.save(ctx)
	return reply.String(), streamErr
}

// sessionTitleLen bounds a session title taken from the first user turn.
const sessionTitleLen = 60

// save records the conversation, without its system message, in history.
// A failed save is logged and the chat goes on.
func (s *chatSession) save(ctx context.Context) {
	if s.history == nil {
		return
	}
	var msgs []llm.Message
	for _, m := range s.conv {
		if m.Role == llm.RoleSystem {
			continue
		}
		if s.session.Title == "" && m.Role == llm.RoleUser {
			s.session.Title = truncate(m.Content, sessionTitleLen)
		}
		msgs = append(msgs, m)
	}
	s.session.Messages = msgs

	saved, err := s.history.Save(ctx, s.session)
	if err != nil {
		slog.Warn("save chat session", "repo", s.session.RepoKey, "err", err)
		return
	}
	s.session = saved
}

func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}

// providerName names the provider that answers, looking through a Selector.
func providerName(p llm.Provider) string {
	if sel, ok := p.(*llm.Selector); ok {
		return sel.Active()
	}
	return p.Name()
}

// describe adds a hint for the failures a user can fix.
func describe(err error) error {
	switch {
	case errors.Is(err, llm.ErrUnauthorized):
		return fmt.Errorf("%w (check the API key with 'repolens use gemini --api-key')", err)
	case errors.Is(err, llm.ErrUnreachable):
		return fmt.Errorf("%w (is 'repolens relay' running and Ollama listening?)", err)
	default:
		return err
	}
}
