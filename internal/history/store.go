// Package history keeps the exchanges of each conversation so the gateway can
// replay them.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/novus-synthesis/internal/models"
	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

var (
	ErrConversationRequired = errors.New("history: conversation id is required")
	ErrUnknownBackend       = errors.New("history: unknown backend")
)

const defaultLimit = 50

// Store records exchanges and lists them per conversation. List returns the
// most recent limit exchanges, oldest first.
type Store interface {
	Record(ctx context.Context, exchange models.Exchange) error
	List(ctx context.Context, conversationID string, limit int) ([]models.Exchange, error)
	Close(ctx context.Context) error
}

// Open builds the store selected by cfg.Backend. The "none" backend yields a
// nil Store and no error.
func Open(ctx context.Context, cfg utils.HistoryConfig, logger *zap.SugaredLogger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case utils.HistoryBackendNone:
		logger.Infow("conversation history disabled")
		return nil, nil
	case "", utils.HistoryBackendMemory:
		return NewMemoryStore(cfg.Limit), nil
	case utils.HistoryBackendPostgres:
		store, err := NewPostgresStore(ctx, cfg.Postgres, cfg.Limit)
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			store.Close(ctx)
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close(ctx)
			return nil, err
		}
		return store, nil
	case utils.HistoryBackendMongo:
		store, err := NewMongoStore(ctx, cfg.Mongo, cfg.Limit)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureCollections(ctx); err != nil {
			store.Close(ctx)
			return nil, err
		}
		return store, nil
	case utils.HistoryBackendRedis:
		return NewRedisStore(ctx, cfg.Redis, cfg.Limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Normalize fills the id and timestamp of exchange when unset and checks the
// conversation id.
func Normalize(exchange models.Exchange) (models.Exchange, error) {
	exchange.ConversationID = strings.TrimSpace(exchange.ConversationID)
	if exchange.ConversationID == "" {
		return exchange, ErrConversationRequired
	}
	if exchange.ID == "" {
		exchange.ID = uuid.NewString()
	}
	if exchange.Timestamp.IsZero() {
		exchange.Timestamp = time.Now().UTC()
	}
	if len(exchange.Answer) == 0 {
		exchange.Answer = []byte("null")
	}
	return exchange, nil
}

func resolveLimit(limit, fallback int) int {
	if limit > 0 {
		return limit
	}
	if fallback > 0 {
		return fallback
	}
	return defaultLimit
}

func reverse(exchanges []models.Exchange) {
	for i, j := 0, len(exchanges)-1; i < j; i, j = i+1, j-1 {
		exchanges[i], exchanges[j] = exchanges[j], exchanges[i]
	}
}
