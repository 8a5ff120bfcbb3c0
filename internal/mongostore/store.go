// Package mongostore keeps stored records in a MongoDB collection, one
// document per key.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DeafMist/crypto-news-radar/internal/processing"
	"github.com/DeafMist/crypto-news-radar/internal/storage"
)

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *slog.Logger
}

var _ storage.Store = (*Store)(nil)

type record struct {
	Key       string     `bson:"_id"`
	Payload   string     `bson:"payload"`
	CreatedAt *time.Time `bson:"created_at,omitempty"`
}

// Connect dials uri, verifies the connection and ensures the created_at index.
func Connect(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := New(client.Database(database).Collection(collection), logger)
	s.client = client

	idx := mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: 1}}}
	if _, err := s.coll.Indexes().CreateOne(ctx, idx); err != nil {
		s.log.Warn("create created_at index", "err", err)
	}
	return s, nil
}

// New wraps an existing collection.
func New(coll *mongo.Collection, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{coll: coll, log: logger}
}

func (s *Store) Put(ctx context.Context, key string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("record %s is not valid json", key)
	}

	rec := record{Key: key, Payload: string(payload)}
	var env storage.Envelope
	if json.Unmarshal(payload, &env) == nil {
		rec.CreatedAt = processing.ParseTimestamp(env.CreatedAt)
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, rec, opts); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var rec record
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", key, err)
	}
	return []byte(rec.Payload), nil
}

func (s *Store) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	limit = storage.NormalizeLimit(limit)

	filter := bson.M{}
	if prefix != "" {
		filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer cursor.Close(ctx)

	keys := make([]string, 0, limit)
	for cursor.Next(ctx) {
		var res struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&res); err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		keys = append(keys, res.Key)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close disconnects a store opened with Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
