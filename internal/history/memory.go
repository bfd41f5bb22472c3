package history

import (
	"context"
	"strings"
	"sync"

	"github.com/wuwenbin0122/novus-synthesis/internal/models"
)

type MemoryStore struct {
	limit int

	mu            sync.RWMutex
	conversations map[string][]models.Exchange
}

func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		limit:         limit,
		conversations: make(map[string][]models.Exchange),
	}
}

func (m *MemoryStore) Record(ctx context.Context, exchange models.Exchange) error {
	_ = ctx

	exchange, err := Normalize(exchange)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.conversations[exchange.ConversationID] = append(m.conversations[exchange.ConversationID], exchange)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, conversationID string, limit int) ([]models.Exchange, error) {
	_ = ctx

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationRequired
	}
	limit = resolveLimit(limit, m.limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.conversations[conversationID]
	start := 0
	if len(stored) > limit {
		start = len(stored) - limit
	}

	result := make([]models.Exchange, len(stored)-start)
	copy(result, stored[start:])
	return result, nil
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}
