package ratelimit

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore backs the limiter with Redis so the window is shared across
// service replicas.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisStore creates a Store using the given Redis client. Keys are
// namespaced under prefix (defaults to "ratelimit").
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Increment implements Store. INCR and the initial EXPIRE run in a pipeline
// so the window TTL is set atomically with the first hit.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	fullKey := s.prefix + ":" + key

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
