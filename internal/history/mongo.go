package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wuwenbin0122/novus-synthesis/internal/models"
	"github.com/wuwenbin0122/novus-synthesis/internal/utils"
)

type MongoStore struct {
	Client   *mongo.Client
	Database *mongo.Database
	History  *mongo.Collection
	Counters *mongo.Collection
	limit    int
}

type exchangeDocument struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Seq            int64     `bson:"seq"`
	Question       string    `bson:"question"`
	Answer         string    `bson:"answer"`
	Conditions     []string  `bson:"conditions,omitempty"`
	ActiveDrugs    []string  `bson:"active_drugs,omitempty"`
	Intent         string    `bson:"intent,omitempty"`
	Mode           string    `bson:"mode,omitempty"`
	Visualizations string    `bson:"visualizations,omitempty"`
	Timestamp      time.Time `bson:"timestamp"`
}

type counterDocument struct {
	ID  string `bson:"_id"`
	Seq int64  `bson:"seq"`
}

func NewMongoStore(ctx context.Context, cfg utils.MongoConfig, limit int) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	db := client.Database(cfg.Database)
	return &MongoStore{
		Client:   client,
		Database: db,
		History:  db.Collection("chat_history"),
		Counters: db.Collection("chat_history_counters"),
		limit:    limit,
	}, nil
}

func (m *MongoStore) Close(ctx context.Context) error {
	if m == nil || m.Client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return m.Client.Disconnect(ctx)
}

func (m *MongoStore) EnsureCollections(ctx context.Context) error {
	if m == nil || m.Database == nil {
		return fmt.Errorf("mongo: database not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := m.History.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure history index: %w", err)
	}

	return nil
}

func (m *MongoStore) Record(ctx context.Context, exchange models.Exchange) error {
	exchange, err := Normalize(exchange)
	if err != nil {
		return err
	}

	seq, err := m.nextSeq(ctx, exchange.ConversationID)
	if err != nil {
		return err
	}

	_, err = m.History.InsertOne(ctx, exchangeDocument{
		ID:             exchange.ID,
		ConversationID: exchange.ConversationID,
		Seq:            seq,
		Question:       exchange.Question,
		Answer:         string(exchange.Answer),
		Conditions:     exchange.Conditions,
		ActiveDrugs:    exchange.ActiveDrugs,
		Intent:         exchange.Intent,
		Mode:           exchange.Mode,
		Visualizations: string(exchange.Visualizations),
		Timestamp:      exchange.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("mongo: insert exchange: %w", err)
	}

	return nil
}

func (m *MongoStore) List(ctx context.Context, conversationID string, limit int) ([]models.Exchange, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, ErrConversationRequired
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(resolveLimit(limit, m.limit)))

	cursor, err := m.History.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: query history: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []exchangeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode history: %w", err)
	}

	exchanges := make([]models.Exchange, 0, len(docs))
	for _, doc := range docs {
		exchange := models.Exchange{
			ID:             doc.ID,
			ConversationID: doc.ConversationID,
			Question:       doc.Question,
			Answer:         []byte(doc.Answer),
			Conditions:     doc.Conditions,
			ActiveDrugs:    doc.ActiveDrugs,
			Intent:         doc.Intent,
			Mode:           doc.Mode,
			Timestamp:      doc.Timestamp.UTC(),
		}
		if doc.Visualizations != "" {
			exchange.Visualizations = []byte(doc.Visualizations)
		}
		exchanges = append(exchanges, exchange)
	}

	reverse(exchanges)
	return exchanges, nil
}

// nextSeq returns the next insertion number of a conversation. BSON dates
// keep milliseconds only, so seq orders exchanges sharing a timestamp.
func (m *MongoStore) nextSeq(ctx context.Context, conversationID string) (int64, error) {
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter counterDocument
	err := m.Counters.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("mongo: next sequence: %w", err)
	}
	return counter.Seq, nil
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
