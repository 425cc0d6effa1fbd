// Package checkpoint persists replay cursors so a consumer can resume a
// topic's log where it left off.
//
// Cursors are opaque strings produced by a transport.Log backend. A missing
// checkpoint loads as the empty cursor, which replays from the start of the
// retained log.
//
// Available implementations:
//   - MemoryStore: in-process, for tests and single-node tools
//   - RedisStore: Redis hash, one field per checkpoint key
//   - MongoStore: one document per checkpoint key
//
// Usage with a distributed bus:
//
//	store := checkpoint.NewRedisStore(redisClient, "platform_events:checkpoints")
//	events, err := bus.ReplayFrom(ctx, store, "indexer", "verity.document.created", 100)
package checkpoint

import (
	"context"
	"time"
)

// Store persists one cursor per key.
type Store interface {
	// Save records cursor for key, replacing any previous value.
	Save(ctx context.Context, key, cursor string) error

	// Load returns the cursor saved for key, or "" when none exists.
	Load(ctx context.Context, key string) (string, error)

	// Delete removes the checkpoint for key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// Info contains detailed information about a checkpoint
type Info struct {
	Key       string
	Cursor    string
	UpdatedAt time.Time
}

// Key builds the checkpoint key for a consumer reading a topic.
func Key(consumerID, topic string) string {
	return consumerID + "@" + topic
}
