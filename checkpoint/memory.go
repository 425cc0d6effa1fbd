package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory checkpoint store.
//
// Data is lost on restart. Use RedisStore or MongoStore when consumers must
// resume across processes.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Info
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: make(map[string]Info),
	}
}

// Save records the cursor for key.
func (s *MemoryStore) Save(ctx context.Context, key, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[key] = Info{Key: key, Cursor: cursor, UpdatedAt: time.Now()}
	return nil
}

// Load returns the cursor for key, or "" if none was saved.
func (s *MemoryStore) Load(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.checkpoints[key].Cursor, nil
}

// Delete removes the checkpoint for key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, key)
	return nil
}

// GetInfo returns the checkpoint details for key, or nil if none exists.
func (s *MemoryStore) GetInfo(ctx context.Context, key string) (*Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.checkpoints[key]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

var _ Store = (*MemoryStore)(nil)
