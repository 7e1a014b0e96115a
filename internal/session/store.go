// Package session persists chat sessions and their messages in SQLite.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrAccessDenied = errors.New("session belongs to another user")
)

type Message struct {
	MessageID  string    `json:"message_id"`
	SessionID  string    `json:"session_id"`
	UserID     string    `json:"user_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	TokensUsed *int      `json:"tokens_used,omitempty"`
	CreatedAt  time.Time `json:"timestamp"`
}

type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);

CREATE TABLE IF NOT EXISTS messages (
	message_id  TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
	user_id     TEXT NOT NULL,
	role        TEXT NOT NULL,
	content     TEXT NOT NULL,
	tokens_used INTEGER,
	created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
`

// Store is the SQLite-backed session store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the session database at path. ":memory:" works for
// tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	store, err := NewWithDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an existing database handle and applies the session schema.
// Used when sessions share the auth database.
func NewWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession creates an empty session for the user and returns its ID.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	sessionID := uuid.NewString()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sessionID, userID, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sessionID, nil
}

// GetSession loads a session with all its messages in chronological order.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&sess.SessionID, &sess.UserID, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, user_id, role, content, tokens_used, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at, message_id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg Message
		var tokens sql.NullInt64
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.UserID, &msg.Role,
			&msg.Content, &tokens, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if tokens.Valid {
			n := int(tokens.Int64)
			msg.TokensUsed = &n
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return &sess, nil
}

// ListSessions returns all sessions of a user, most recently updated first,
// with messages loaded.
func (s *Store) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// AppendMessage appends a turn to a session the user owns.
func (s *Store) AppendMessage(ctx context.Context, sessionID, userID, role, content string, tokensUsed *int) (*Message, error) {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&owner)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if owner != userID {
		return nil, ErrAccessDenied
	}

	msg := &Message{
		MessageID:  uuid.NewString(),
		SessionID:  sessionID,
		UserID:     userID,
		Role:       role,
		Content:    content,
		TokensUsed: tokensUsed,
		CreatedAt:  time.Now().UTC(),
	}

	var tokens sql.NullInt64
	if tokensUsed != nil {
		tokens = sql.NullInt64{Int64: int64(*tokensUsed), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, user_id, role, content, tokens_used, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.SessionID, msg.UserID, msg.Role, msg.Content, tokens, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		msg.CreatedAt, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	return msg, nil
}

// DeleteSession removes a session the user owns, with its messages.
func (s *Store) DeleteSession(ctx context.Context, sessionID, userID string) error {
	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&owner)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if owner != userID {
		return ErrAccessDenied
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ClearAll removes every session. Admin operation; returns count removed.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions`)
	if err != nil {
		return 0, fmt.Errorf("clear sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountSessions reports the total number of sessions.
func (s *Store) CountSessions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// CountUsers reports how many distinct users have sessions.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT user_id) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
