package memory

import (
	"context"
	"sync"

	"github.com/atlasagent/atlas/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]models.ChatMessage
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: map[string][]models.ChatMessage{}}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID, userID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.messages[historyKey(sessionID, userID)]
	if !ok {
		return []models.ChatMessage{}, nil
	}
	out := make([]models.ChatMessage, len(stored))
	copy(out, stored)
	return out, nil
}

func (m *MemoryStore) Save(ctx context.Context, sessionID, userID string, messages []models.ChatMessage) error {
	clone := make([]models.ChatMessage, len(messages))
	copy(clone, messages)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[historyKey(sessionID, userID)] = clone
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, historyKey(sessionID, userID))
	return nil
}

func (m *MemoryStore) Close() error { return nil }
