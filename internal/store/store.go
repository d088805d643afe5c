// Package store provides conversation persistence interfaces and the
// SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/cdoai/intentd/internal/domain"
)

// Summary aggregates conversation analytics, computed in a fixed number
// of aggregate queries rather than by loading rows into memory.
type Summary struct {
	TotalSessions          int        `json:"total_sessions"`
	ActiveSessions         int        `json:"active_sessions"`
	ArchivedSessions       int        `json:"archived_sessions"`
	TotalMessages          int        `json:"total_messages"`
	UserMessages           int        `json:"user_messages"`
	AssistantMessages      int        `json:"assistant_messages"`
	AvgMessagesPerSession  float64    `json:"avg_messages_per_session"`
	MostActiveSessionID    string     `json:"most_active_session_id,omitempty"`
	RecentActivityAt       *time.Time `json:"recent_activity_at,omitempty"`
}

// Repository defines the persistence contract for sessions and messages.
// Reads return immutable snapshots; all mutation routes through these
// operations so the single-writer-per-session invariant holds.
type Repository interface {
	// CreateSession inserts a new active session with a generated id.
	CreateSession(ctx context.Context, name, userID string) (*domain.Session, error)

	// GetSession retrieves a session by id, or nil when the id is
	// unknown or the session is soft-deleted.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// GetOrCreateSession returns the existing session verbatim, or
	// creates one with the caller-supplied id. Idempotent: repeated
	// calls never alter existing message history. A soft-deleted id is
	// treated as absent and re-created fresh.
	GetOrCreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error)

	// AppendMessage inserts the message, bumps the session's
	// updated_at, and evicts the oldest rows beyond the retention
	// limit, all in one transaction. The just-inserted message is
	// never evicted.
	AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) (*domain.Message, error)

	// RecentMessages returns up to limit most recent messages in
	// chronological (oldest-first) order.
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// ListSessions returns non-deleted sessions ordered by updated_at
	// descending, filtered by userID when non-empty. Message bodies
	// are not loaded.
	ListSessions(ctx context.Context, userID string) ([]domain.Session, error)

	// ClearMessages deletes all message rows for the session, leaving
	// the session row intact. Reports whether any rows were removed.
	ClearMessages(ctx context.Context, sessionID string) (bool, error)

	// SoftDelete marks the session deleted, hiding it from listings
	// and from GetOrCreateSession. Message rows are retained until an
	// explicit Purge.
	SoftDelete(ctx context.Context, sessionID string) (bool, error)

	// Purge hard-deletes the session row and cascades its messages.
	Purge(ctx context.Context, sessionID string) (bool, error)

	// Summarize computes conversation analytics.
	Summarize(ctx context.Context) (*Summary, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
