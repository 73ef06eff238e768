package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints for the lifetime of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]time.Time)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, through time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = through.UTC()
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Store   = (*RedisStore)(nil)
	_ Clearer = (*MemoryStore)(nil)
	_ Clearer = (*RedisStore)(nil)
)
