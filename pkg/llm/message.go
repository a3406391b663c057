package llm

import (
	"time"

	"github.com/google/uuid"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn of a conversation. Messages are not modified once
// appended.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// NewMessage stamps a new message with an ID and the current time.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// Conversation is an ordered sequence of messages.
type Conversation []Message

// NewConversation builds the conversation for one request: a synthesized
// system message carrying systemPrompt, followed by the prior turns. An
// empty prompt adds no system message.
func NewConversation(systemPrompt string, history ...Message) Conversation {
	conv := make(Conversation, 0, len(history)+1)
	if systemPrompt != "" {
		conv = append(conv, NewMessage(RoleSystem, systemPrompt))
	}
	return append(conv, history...)
}

// LastUser returns the content of the most recent user turn.
func (c Conversation) LastUser() (string, bool) {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleUser {
			return c[i].Content, true
		}
	}
	return "", false
}
