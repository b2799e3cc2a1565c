// Package memory persists conversation history between turns.
package memory

import (
	"context"
	"fmt"

	"github.com/atlasagent/atlas/internal/config"
	"github.com/atlasagent/atlas/pkg/models"
)

// Store is the interface for conversation persistence.
//
// Load returns an empty slice for a session that has no saved history.
// Save replaces the stored history for the session wholesale, so saving
// the same slice twice leaves the store unchanged.
type Store interface {
	Load(ctx context.Context, sessionID, userID string) ([]models.ChatMessage, error)
	Save(ctx context.Context, sessionID, userID string, messages []models.ChatMessage) error
	Clear(ctx context.Context, sessionID, userID string) error
	Close() error
}

// historyKey scopes stored conversations to a session/user pair.
func historyKey(sessionID, userID string) string {
	return sessionID + ":" + userID
}

// New builds a Store from config.
func New(cfg config.MemoryConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path, nil)
	default:
		return nil, fmt.Errorf("unknown memory backend: %q", cfg.Backend)
	}
}
