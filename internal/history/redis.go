package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wuwenbin0122/novus-synthesis/internal/models"
	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

const redisKeyPrefix = "chat_history:"

// RedisStore keeps one list per conversation, appended in arrival order.
type RedisStore struct {
	Client *redis.Client
	ttl    time.Duration
	limit  int
}

func NewRedisStore(ctx context.Context, cfg utils.RedisConfig, limit int) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis: address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisStore{Client: client, ttl: cfg.TTL, limit: limit}, nil
}

func (r *RedisStore) Close(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

func (r *RedisStore) Record(ctx context.Context, exchange models.Exchange) error {
	exchange, err := Normalize(exchange)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(exchange)
	if err != nil {
		return fmt.Errorf("redis: marshal exchange: %w", err)
	}

	key := redisKeyPrefix + exchange.ConversationID
	pipe := r.Client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: record exchange: %w", err)
	}

	return nil
}

func (r *RedisStore) List(ctx context.Context, conversationID string, limit int) ([]models.Exchange, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	limit = resolveLimit(limit, r.limit)
	raw, err := r.Client.LRange(ctx, redisKeyPrefix+conversationID, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: read history: %w", err)
	}

	exchanges := make([]models.Exchange, 0, len(raw))
	for _, item := range raw {
		var exchange models.Exchange
		if err := json.Unmarshal([]byte(item), &exchange); err != nil {
			return nil, fmt.Errorf("redis: decode exchange: %w", err)
		}
		exchanges = append(exchanges, exchange)
	}

	return exchanges, nil
}
