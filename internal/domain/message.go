package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength caps stored message content at 50k characters.
const MaxMessageLength = 50000

// MessageType discriminates who authored a message.
type MessageType string

const (
	// MessageUser is a message written by the end user.
	MessageUser MessageType = "user"
	// MessageAssistant is a model-generated reply.
	MessageAssistant MessageType = "assistant"
	// MessageSystem is an instruction injected by the service.
	MessageSystem MessageType = "system"
)

// Valid reports whether the message type is one of the known variants.
func (t MessageType) Valid() bool {
	switch t {
	case MessageUser, MessageAssistant, MessageSystem:
		return true
	}
	return false
}

var (
	// ErrEmptyContent is returned for blank message content.
	ErrEmptyContent = errors.New("message content cannot be empty")
	// ErrContentTooLong is returned when content exceeds MaxMessageLength.
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)

// Message is a single conversation entry. Messages are append-only: once
// persisted they are never mutated or reordered, only evicted under
// retention limits.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Type      MessageType       `json:"message_type"`
	Content   string            `json:"content"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Validate checks content constraints before persistence.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxMessageLength {
		return ErrContentTooLong
	}
	if !m.Type.Valid() {
		return errors.New("unknown message type: " + string(m.Type))
	}
	return nil
}

func newMessage(t MessageType, content string, metadata map[string]string) *Message {
	if metadata == nil {
		metadata = map[string]string{}
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      t,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// NewUserMessage creates a user-authored message.
func NewUserMessage(content string, metadata map[string]string) *Message {
	return newMessage(MessageUser, content, metadata)
}

// NewAssistantMessage creates a model-authored message.
func NewAssistantMessage(content string, metadata map[string]string) *Message {
	return newMessage(MessageAssistant, content, metadata)
}

// NewSystemMessage creates a service-injected message.
func NewSystemMessage(content string, metadata map[string]string) *Message {
	return newMessage(MessageSystem, content, metadata)
}
