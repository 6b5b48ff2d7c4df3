package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JonMunkholm/sheetchunk/internal/config"
)

const mongoCloseTimeout = 5 * time.Second

// replacer is the part of *mongo.Collection the sink uses.
type replacer interface {
	ReplaceOne(ctx context.Context, filter interface{}, replacement interface{}, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error)
}

// Mongo stores each part as one document keyed by its identifier.
type Mongo struct {
	client     *mongo.Client
	collection replacer
	target     string
	now        func() time.Time
}

// NewMongo connects to MongoDB and pings it.
func NewMongo(ctx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo sink: uri is required")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo sink: database name is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("mongo sink: collection name is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo sink: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo sink: ping: %w", err)
	}
	return &Mongo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		target:     "mongodb:" + cfg.Database + "/" + cfg.Collection,
		now:        time.Now,
	}, nil
}

// Target returns "mongodb:<database>/<collection>".
func (m *Mongo) Target() string { return m.target }

// Put upserts {_id: id, content, bytes, updated_at}.
func (m *Mongo) Put(ctx context.Context, id string, content []byte) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	doc := bson.M{
		"_id":        id,
		"content":    string(content),
		"bytes":      len(content),
		"updated_at": m.now().UTC(),
	}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

// Close disconnects the client.
func (m *Mongo) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
