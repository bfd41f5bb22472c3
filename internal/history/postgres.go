package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/novus-synthesis/internal/models"
	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

type PostgresStore struct {
	Pool  *pgxpool.Pool
	limit int
}

func NewPostgresStore(ctx context.Context, cfg utils.PostgresConfig, limit int) (*PostgresStore, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &PostgresStore{Pool: pool, limit: limit}, nil
}

func (p *PostgresStore) Close(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return nil
	}
	p.Pool.Close()
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	statements := []string{
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS chat_history (",
			"    id TEXT PRIMARY KEY,",
			"    conversation_id TEXT NOT NULL,",
			"    question TEXT NOT NULL,",
			"    answer JSONB NOT NULL,",
			"    timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW()",
			")",
		}, "\n"),
		"ALTER TABLE chat_history ADD COLUMN IF NOT EXISTS seq BIGSERIAL",
		"ALTER TABLE chat_history ADD COLUMN IF NOT EXISTS conditions TEXT[]",
		"ALTER TABLE chat_history ADD COLUMN IF NOT EXISTS active_drugs TEXT[]",
		"ALTER TABLE chat_history ADD COLUMN IF NOT EXISTS intent TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE chat_history ADD COLUMN IF NOT EXISTS mode TEXT NOT NULL DEFAULT ''",
		"ALTER TABLE chat_history ADD COLUMN IF NOT EXISTS visualizations JSONB",
		"CREATE INDEX IF NOT EXISTS chat_history_conversation_seq_idx ON chat_history (conversation_id, timestamp, seq)",
	}

	for _, stmt := range statements {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	return nil
}

func (p *PostgresStore) Record(ctx context.Context, exchange models.Exchange) error {
	exchange, err := Normalize(exchange)
	if err != nil {
		return err
	}

	var visualizations *string
	if len(exchange.Visualizations) > 0 {
		raw := string(exchange.Visualizations)
		visualizations = &raw
	}

	const insertSQL = `INSERT INTO chat_history
(id, conversation_id, question, answer, conditions, active_drugs, intent, mode, visualizations, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := p.Pool.Exec(ctx, insertSQL,
		exchange.ID,
		exchange.ConversationID,
		exchange.Question,
		string(exchange.Answer),
		exchange.Conditions,
		exchange.ActiveDrugs,
		exchange.Intent,
		exchange.Mode,
		visualizations,
		exchange.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: insert exchange: %w", err)
	}

	return nil
}

func (p *PostgresStore) List(ctx context.Context, conversationID string, limit int) ([]models.Exchange, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	const querySQL = `SELECT id, conversation_id, question, answer::text, conditions, active_drugs, intent, mode,
visualizations::text, timestamp FROM chat_history
WHERE conversation_id = $1 ORDER BY timestamp DESC, seq DESC LIMIT $2`
	rows, err := p.Pool.Query(ctx, querySQL, conversationID, resolveLimit(limit, p.limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}
	defer rows.Close()

	exchanges := make([]models.Exchange, 0)
	for rows.Next() {
		var (
			exchange       models.Exchange
			answer         string
			visualizations *string
		)
		if err := rows.Scan(
			&exchange.ID,
			&exchange.ConversationID,
			&exchange.Question,
			&answer,
			&exchange.Conditions,
			&exchange.ActiveDrugs,
			&exchange.Intent,
			&exchange.Mode,
			&visualizations,
			&exchange.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan exchange: %w", err)
		}
		exchange.Answer = []byte(answer)
		if visualizations != nil {
			exchange.Visualizations = []byte(*visualizations)
		}
		exchange.Timestamp = exchange.Timestamp.UTC()
		exchanges = append(exchanges, exchange)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate history: %w", err)
	}

	reverse(exchanges)
	return exchanges, nil
}
