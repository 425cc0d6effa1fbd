package checkpoint

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store with one document per checkpoint key.
//
// Document structure:
//
//	{
//	    "_id": "indexer@verity.document.created",
//	    "cursor": "1736937000000-0",
//	    "updated_at": ISODate("2026-01-15T10:30:00Z")
//	}
type MongoStore struct {
	collection *mongo.Collection
	ttl        time.Duration
}

// MongoOption configures the MongoDB checkpoint store
type MongoOption func(*MongoStore)

// WithMongoTTL sets a TTL for checkpoint documents, enforced by a TTL index
// on "updated_at". Default is 0 (no expiration).
func WithMongoTTL(ttl time.Duration) MongoOption {
	return func(s *MongoStore) {
		s.ttl = ttl
	}
}

type checkpointDoc struct {
	ID        string    `bson:"_id"`
	Cursor    string    `bson:"cursor"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore creates a new MongoDB-backed checkpoint store.
func NewMongoStore(collection *mongo.Collection, opts ...MongoOption) *MongoStore {
	s := &MongoStore{
		collection: collection,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Indexes returns the index models for the checkpoint collection.
func (s *MongoStore) Indexes() []mongo.IndexModel {
	var indexes []mongo.IndexModel
	if s.ttl > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(s.ttl.Seconds())).
				SetName("checkpoint_ttl"),
		})
	}
	return indexes
}

// EnsureIndexes creates the required indexes. Call it once at startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := s.Indexes()
	if len(indexes) == 0 {
		return nil
	}
	_, err := s.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Save records the cursor for key.
func (s *MongoStore) Save(ctx context.Context, key, cursor string) error {
	doc := checkpointDoc{
		ID:        key,
		Cursor:    cursor,
		UpdatedAt: time.Now(),
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	return err
}

// Load returns the cursor for key, or "" if none was saved.
func (s *MongoStore) Load(ctx context.Context, key string) (string, error) {
	info, err := s.GetInfo(ctx, key)
	if err != nil || info == nil {
		return "", err
	}
	return info.Cursor, nil
}

// Delete removes the checkpoint for key.
func (s *MongoStore) Delete(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// GetInfo returns the checkpoint details for key, or nil if none exists.
func (s *MongoStore) GetInfo(ctx context.Context, key string) (*Info, error) {
	var doc checkpointDoc
	err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Info{Key: doc.ID, Cursor: doc.Cursor, UpdatedAt: doc.UpdatedAt}, nil
}

var _ Store = (*MongoStore)(nil)
