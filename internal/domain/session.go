// Package domain contains core domain types for the intent analysis service.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	// SessionActive is the default state for a live conversation.
	SessionActive SessionStatus = "active"
	// SessionArchived marks a session kept for reference but no longer in use.
	SessionArchived SessionStatus = "archived"
	// SessionDeleted marks a soft-deleted session, hidden from listings.
	SessionDeleted SessionStatus = "deleted"
)

// Valid reports whether the status is one of the known states.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionArchived, SessionDeleted:
		return true
	}
	return false
}

// Session is an isolated, independently addressable conversation thread.
// Sessions are owned by the store; callers receive snapshots and all
// mutation routes back through store operations.
type Session struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	UserID    string            `json:"user_id,omitempty"`
	Status    SessionStatus     `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewSession creates an active session with a generated ID.
// An empty name defaults to a short form of the ID.
func NewSession(name, userID string) *Session {
	now := time.Now().UTC()
	id := uuid.NewString()
	if name == "" {
		name = fmt.Sprintf("Session %s", id[:8])
	}
	return &Session{
		ID:        id,
		Name:      name,
		UserID:    userID,
		Status:    SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]string{},
	}
}

// NewSessionWithID creates an active session with a caller-supplied ID.
func NewSessionWithID(id, userID string) *Session {
	s := NewSession("", userID)
	s.ID = id
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	s.Name = fmt.Sprintf("Session %s", short)
	return s
}

// IsActive reports whether the session accepts new turns.
func (s *Session) IsActive() bool {
	return s.Status == SessionActive
}
