package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/stores/redis"
)

// Store persists the end of the last fully written window per target.
type Store interface {
	Load(ctx context.Context, key string) (time.Time, bool, error)
	Save(ctx context.Context, key string, through time.Time) error
}

// Clearer is implemented by stores that can forget a checkpoint.
type Clearer interface {
	Clear(ctx context.Context, key string) error
}

// RedisStore keeps checkpoints as RFC3339 strings in Redis.
type RedisStore struct {
	rds *redis.Redis
	ttl time.Duration
}

// NewRedisStore wraps a go-zero Redis client. ttl <= 0 keeps keys forever.
func NewRedisStore(rds *redis.Redis, ttl time.Duration) (*RedisStore, error) {
	if rds == nil {
		return nil, errors.New("checkpoint: redis client is required")
	}
	return &RedisStore{rds: rds, ttl: ttl}, nil
}

// Load returns the stored checkpoint; ok is false when none exists.
func (s *RedisStore) Load(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := s.rds.GetCtx(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("checkpoint: get %s: %w", key, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("checkpoint: %s holds invalid time %q: %w", key, raw, err)
	}
	return ts.UTC(), true, nil
}

// Save records that everything before through has been written.
func (s *RedisStore) Save(ctx context.Context, key string, through time.Time) error {
	value := through.UTC().Format(time.RFC3339Nano)
	var err error
	if s.ttl > 0 {
		err = s.rds.SetexCtx(ctx, key, value, int(s.ttl/time.Second))
	} else {
		err = s.rds.SetCtx(ctx, key, value)
	}
	if err != nil {
		return fmt.Errorf("checkpoint: set %s: %w", key, err)
	}
	return nil
}

// Clear removes a checkpoint so the next run starts from the requested range.
func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if _, err := s.rds.DelCtx(ctx, key); err != nil {
		return fmt.Errorf("checkpoint: del %s: %w", key, err)
	}
	return nil
}
