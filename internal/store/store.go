// Package store persists conversations and their messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"PhantomQuery/internal/conversation"
)

// ErrNotFound is returned when a conversation does not exist
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages (conversation_id, timestamp);
`

type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (or creates) the database at path. ":memory:" keeps
// everything in a single in-process connection.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("database ready", "path", path)
	return &Store{db: db, now: time.Now, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateConversation stores a new conversation. A blank title becomes "New Chat".
func (s *Store) CreateConversation(ctx context.Context, title string) (conversation.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = conversation.DefaultTitle
	}
	c := conversation.Conversation{
		ID:        conversation.ID(uuid.NewString()),
		Title:     title,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at) VALUES (?, ?, ?)`,
		string(c.ID), c.Title, c.CreatedAt)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.logger.Info("conversation created", "conversation_id", c.ID, "title", c.Title)
	return c, nil
}

func (s *Store) GetConversation(ctx context.Context, id conversation.ID) (conversation.Conversation, error) {
	var c conversation.Conversation
	var rawID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at FROM conversations WHERE id = ?`, string(id)).
		Scan(&rawID, &c.Title, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("failed to load conversation: %w", err)
	}
	c.ID = conversation.ID(rawID)
	return c, nil
}

// ListConversations returns every conversation, oldest first
func (s *Store) ListConversations(ctx context.Context) ([]conversation.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM conversations ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := []conversation.Conversation{}
	for rows.Next() {
		var c conversation.Conversation
		var rawID string
		if err := rows.Scan(&rawID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		c.ID = conversation.ID(rawID)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes the conversation and its messages
func (s *Store) DeleteConversation(ctx context.Context, id conversation.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	s.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// AddMessage appends msg to the conversation. ID and a zero Timestamp are
// filled in; the stored message is returned.
func (s *Store) AddMessage(ctx context.Context, id conversation.ID, msg conversation.Message) (conversation.Message, error) {
	if _, err := s.GetConversation(ctx, id); err != nil {
		return conversation.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	msg.Timestamp = msg.Timestamp.UTC()
	msg.Status = ""

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, string(id), msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		return conversation.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the conversation's messages in timestamp order. An
// unknown conversation has no messages.
func (s *Store) ListMessages(ctx context.Context, id conversation.ID) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, timestamp FROM messages WHERE conversation_id = ? ORDER BY timestamp, rowid`,
		string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := []conversation.Message{}
	for rows.Next() {
		var m conversation.Message
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
