package checkpoint

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store using a single Redis hash. Each checkpoint
// key is a hash field holding the cursor.
type RedisStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// RedisOption configures the Redis checkpoint store
type RedisOption func(*RedisStore)

// WithTTL expires the whole checkpoint hash ttl after the last Save.
// Consumers whose checkpoints expired replay from the start of the log.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// NewRedisStore creates a Redis-backed checkpoint store storing every
// checkpoint in the hash at key.
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := checkpoint.NewRedisStore(client, "platform_events:checkpoints")
func NewRedisStore(client redis.Cmdable, key string, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		key:    key,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save records the cursor for key.
func (s *RedisStore) Save(ctx context.Context, key, cursor string) error {
	if err := s.client.HSet(ctx, s.key, key, cursor).Err(); err != nil {
		return err
	}
	if s.ttl > 0 {
		return s.client.Expire(ctx, s.key, s.ttl).Err()
	}
	return nil
}

// Load returns the cursor for key, or "" if none was saved.
func (s *RedisStore) Load(ctx context.Context, key string) (string, error) {
	cursor, err := s.client.HGet(ctx, s.key, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return cursor, err
}

// Delete removes the checkpoint for key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.HDel(ctx, s.key, key).Err()
}

// List returns every checkpoint key in the hash.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	return s.client.HKeys(ctx, s.key).Result()
}

// GetAll returns all checkpoints as a key to cursor map.
func (s *RedisStore) GetAll(ctx context.Context) (map[string]string, error) {
	return s.client.HGetAll(ctx, s.key).Result()
}

var _ Store = (*RedisStore)(nil)
