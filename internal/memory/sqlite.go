package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/atlasagent/atlas/pkg/models"
)

// SQLiteConfig holds connection settings for the SQLite backend.
type SQLiteConfig struct {
	MaxOpenConns   int
	ConnectTimeout time.Duration
}

// DefaultSQLiteConfig returns default configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		// modernc.org/sqlite serializes writes; one connection avoids SQLITE_BUSY.
		MaxOpenConns:   1,
		ConnectTimeout: 10 * time.Second,
	}
}

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	session_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	message    TEXT NOT NULL,
	PRIMARY KEY (session_id, user_id, seq)
);
`

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(path string, config *SQLiteConfig) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID, userID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message FROM conversation_messages
		WHERE session_id = ? AND user_id = ? ORDER BY seq
	`, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	messages := []models.ChatMessage{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return messages, nil
}

// Save replaces the session history in a single transaction.
func (s *SQLiteStore) Save(ctx context.Context, sessionID, userID string, messages []models.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM conversation_messages WHERE session_id = ? AND user_id = ?
	`, sessionID, userID); err != nil {
		return fmt.Errorf("clear previous messages: %w", err)
	}
	for i, msg := range messages {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_messages (session_id, user_id, seq, message) VALUES (?, ?, ?, ?)
		`, sessionID, userID, i, string(raw)); err != nil {
			return fmt.Errorf("save message %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID, userID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM conversation_messages WHERE session_id = ? AND user_id = ?
	`, sessionID, userID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
