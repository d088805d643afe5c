package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cdoai/intentd/internal/cdoerr"
	"github.com/cdoai/intentd/internal/domain"
	"github.com/cdoai/intentd/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	tableSessions = "conversation_sessions"
	tableMessages = "conversation_messages"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	retention int
	writeMu   sync.Mutex // serializes session writes to prevent SQLITE_BUSY
}

// NewSQLite creates a SQLite-backed repository with the given per-session
// message retention limit (0 disables eviction).
func NewSQLite(dbPath string, retention int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retention: retention}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;
	CREATE TABLE IF NOT EXISTS conversation_sessions (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		user_id TEXT,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		metadata TEXT DEFAULT '{}'
	);
	CREATE TABLE IF NOT EXISTS conversation_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		message_type TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		metadata TEXT DEFAULT '{}',
		FOREIGN KEY (session_id) REFERENCES conversation_sessions (id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_status
		ON conversation_sessions(user_id, status, updated_at);
	CREATE INDEX IF NOT EXISTS idx_messages_session_timestamp
		ON conversation_messages(session_id, timestamp);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new active session with a generated id.
func (s *SQLiteStore) CreateSession(ctx context.Context, name, userID string) (*domain.Session, error) {
	session := domain.NewSession(name, userID)
	if err := s.insertSession(ctx, session); err != nil {
		return nil, cdoerr.Storage("create", tableSessions, err)
	}
	slog.Info("Created session", "session_id", session.ID, "name", session.Name)
	return session, nil
}

func (s *SQLiteStore) insertSession(ctx context.Context, session *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}

	query := `
		INSERT INTO conversation_sessions (id, name, user_id, status, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.Name, nullable(session.UserID), string(session.Status),
		formatTime(session.CreatedAt), formatTime(session.UpdatedAt), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id; soft-deleted sessions read as absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT id, name, user_id, status, created_at, updated_at, metadata
		FROM conversation_sessions
		WHERE id = ? AND status != 'deleted'`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cdoerr.Storage("select", tableSessions, err)
	}
	return session, nil
}

// GetOrCreateSession returns the existing session or creates one with
// the caller-supplied id. A soft-deleted tombstone under the same id is
// purged in the same transaction before re-creation, so re-addressing a
// deleted session starts a fresh history.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, cdoerr.Storage("get_or_create", tableSessions, err)
	}
	defer rollback(tx)

	row := tx.QueryRowContext(ctx, `
		SELECT id, name, user_id, status, created_at, updated_at, metadata
		FROM conversation_sessions WHERE id = ?`, sessionID)

	existing, err := scanSession(row)
	switch {
	case err == nil && existing.Status != domain.SessionDeleted:
		return existing, tx.Commit()
	case err == nil:
		// Soft-deleted tombstone: purge it (cascading messages) and fall
		// through to re-creation.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_sessions WHERE id = ?`, sessionID); err != nil {
			return nil, cdoerr.Storage("get_or_create", tableSessions, err)
		}
	case err != sql.ErrNoRows:
		return nil, cdoerr.Storage("get_or_create", tableSessions, err)
	}

	session := domain.NewSessionWithID(sessionID, userID)
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return nil, cdoerr.Storage("get_or_create", tableSessions, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_sessions (id, name, user_id, status, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.Name, nullable(session.UserID), string(session.Status),
		formatTime(session.CreatedAt), formatTime(session.UpdatedAt), string(metadata),
	)
	if err != nil {
		return nil, cdoerr.Storage("get_or_create", tableSessions, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, cdoerr.Storage("get_or_create", tableSessions, err)
	}

	slog.Info("Created session with caller-supplied id", "session_id", sessionID)
	return session, nil
}

// AppendMessage inserts the message, bumps the session timestamp, and
// enforces the retention limit, all within one transaction. Retries on
// SQLite concurrency conflicts with exponential backoff.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *domain.Message) (*domain.Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, cdoerr.Storage("insert", tableMessages, err)
	}
	msg.SessionID = sessionID

	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		lastErr = s.appendMessageOnce(ctx, sessionID, msg)
		if lastErr == nil {
			return msg, nil
		}
		if shared.IsSQLiteConflictError(lastErr) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("AppendMessage hit SQLITE_BUSY, retrying",
				"session_id", sessionID, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}
	// Already-coded errors (session not found) pass through untouched so
	// callers can map them.
	var coded *cdoerr.Error
	if errors.As(lastErr, &coded) {
		return nil, lastErr
	}
	return nil, cdoerr.Storage("insert", tableMessages, lastErr)
}

func (s *SQLiteStore) appendMessageOnce(ctx context.Context, sessionID string, msg *domain.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM conversation_sessions WHERE id = ?`, sessionID).Scan(&status)
	if err == sql.ErrNoRows || (err == nil && status == string(domain.SessionDeleted)) {
		return cdoerr.SessionNotFound(sessionID)
	}
	if err != nil {
		return err
	}

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal message metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, message_type, content, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Type), msg.Content,
		formatTime(msg.Timestamp), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversation_sessions SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), sessionID)
	if err != nil {
		return fmt.Errorf("bump session updated_at: %w", err)
	}

	// Evict oldest rows beyond the retention limit. The just-inserted
	// message is the newest by (timestamp, id), so it always survives.
	if s.retention > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM conversation_messages
			WHERE session_id = ?
			AND id NOT IN (
				SELECT id FROM conversation_messages
				WHERE session_id = ?
				ORDER BY timestamp DESC, id DESC
				LIMIT ?
			)`, sessionID, sessionID, s.retention)
		if err != nil {
			return fmt.Errorf("enforce retention: %w", err)
		}
	}

	return tx.Commit()
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := `
		SELECT id, session_id, message_type, content, timestamp, metadata
		FROM (
			SELECT id, session_id, message_type, content, timestamp, metadata
			FROM conversation_messages
			WHERE session_id = ?
			ORDER BY timestamp DESC, id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, cdoerr.Storage("select", tableMessages, err)
	}
	defer closeRows(rows, "recent messages")

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, cdoerr.Storage("select", tableMessages, err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, cdoerr.Storage("select", tableMessages, err)
	}
	return messages, nil
}

// ListSessions returns non-deleted sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	query := `
		SELECT id, name, user_id, status, created_at, updated_at, metadata
		FROM conversation_sessions
		WHERE status != 'deleted'`
	args := []interface{}{}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cdoerr.Storage("select", tableSessions, err)
	}
	defer closeRows(rows, "list sessions")

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, cdoerr.Storage("select", tableSessions, err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, cdoerr.Storage("select", tableSessions, err)
	}
	return sessions, nil
}

// ClearMessages deletes all message rows for the session, keeping the
// session row.
func (s *SQLiteStore) ClearMessages(ctx context.Context, sessionID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, cdoerr.Storage("delete", tableMessages, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, cdoerr.Storage("delete", tableMessages, err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE conversation_sessions SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), sessionID)
	if err != nil {
		return false, cdoerr.Storage("update", tableSessions, err)
	}

	slog.Info("Cleared session messages", "session_id", sessionID, "removed", rowsAffected)
	return rowsAffected > 0, nil
}

// SoftDelete marks the session deleted without touching its messages.
func (s *SQLiteStore) SoftDelete(ctx context.Context, sessionID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_sessions
		SET status = 'deleted', updated_at = ?
		WHERE id = ? AND status != 'deleted'`,
		formatTime(time.Now().UTC()), sessionID)
	if err != nil {
		return false, cdoerr.Storage("update", tableSessions, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, cdoerr.Storage("update", tableSessions, err)
	}
	if rowsAffected == 0 {
		slog.Warn("SoftDelete found no session to delete", "session_id", sessionID)
		return false, nil
	}
	slog.Info("Soft-deleted session", "session_id", sessionID)
	return true, nil
}

// Purge hard-deletes the session row; ON DELETE CASCADE removes its
// messages.
func (s *SQLiteStore) Purge(ctx context.Context, sessionID string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return false, cdoerr.Storage("delete", tableSessions, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, cdoerr.Storage("delete", tableSessions, err)
	}
	if rowsAffected > 0 {
		slog.Info("Purged session", "session_id", sessionID)
	}
	return rowsAffected > 0, nil
}

// Summarize computes conversation analytics in three aggregate queries.
func (s *SQLiteStore) Summarize(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	var recentActivity sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN status = 'active' THEN 1 END),
		       COUNT(CASE WHEN status = 'archived' THEN 1 END),
		       MAX(updated_at)
		FROM conversation_sessions
		WHERE status != 'deleted'`).Scan(
		&summary.TotalSessions, &summary.ActiveSessions,
		&summary.ArchivedSessions, &recentActivity)
	if err != nil {
		return nil, cdoerr.Storage("select", tableSessions, err)
	}
	if recentActivity.Valid {
		if ts := parseTime(recentActivity.String); !ts.IsZero() {
			summary.RecentActivityAt = &ts
		}
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN cm.message_type = 'user' THEN 1 END),
		       COUNT(CASE WHEN cm.message_type = 'assistant' THEN 1 END)
		FROM conversation_messages cm
		JOIN conversation_sessions cs ON cm.session_id = cs.id
		WHERE cs.status != 'deleted'`).Scan(
		&summary.TotalMessages, &summary.UserMessages, &summary.AssistantMessages)
	if err != nil {
		return nil, cdoerr.Storage("select", tableMessages, err)
	}

	if summary.TotalSessions > 0 {
		summary.AvgMessagesPerSession =
			float64(summary.TotalMessages) / float64(summary.TotalSessions)
	}

	var mostActive sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT cs.id
		FROM conversation_sessions cs
		LEFT JOIN conversation_messages cm ON cs.id = cm.session_id
		WHERE cs.status != 'deleted'
		GROUP BY cs.id
		ORDER BY COUNT(cm.id) DESC
		LIMIT 1`).Scan(&mostActive)
	if err != nil && err != sql.ErrNoRows {
		return nil, cdoerr.Storage("select", tableSessions, err)
	}
	summary.MostActiveSessionID = mostActive.String

	return summary, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*domain.Session, error) {
	var session domain.Session
	var userID sql.NullString
	var status, createdAt, updatedAt, metadata string

	err := row.Scan(&session.ID, &session.Name, &userID, &status,
		&createdAt, &updatedAt, &metadata)
	if err != nil {
		return nil, err
	}

	session.UserID = userID.String
	session.Status = domain.SessionStatus(status)
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)
	if err := json.Unmarshal([]byte(metadata), &session.Metadata); err != nil {
		session.Metadata = map[string]string{}
	}
	return &session, nil
}

func scanMessage(row scanner) (*domain.Message, error) {
	var msg domain.Message
	var msgType, timestamp, metadata string

	err := row.Scan(&msg.ID, &msg.SessionID, &msgType, &msg.Content,
		&timestamp, &metadata)
	if err != nil {
		return nil, err
	}

	msg.Type = domain.MessageType(msgType)
	msg.Timestamp = parseTime(timestamp)
	if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
		msg.Metadata = map[string]string{}
	}
	return &msg, nil
}

// timeLayout keeps a fixed-width fractional part so lexicographic order
// on the TEXT column agrees with chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("transaction rollback failed", "error", err)
	}
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}
