package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ CounterStore = (*RedisStore)(nil)

// RedisStore backs the limiter with Redis so all serving instances agree
// on counts. INCR is atomic; the paired EXPIRE only sets a TTL when the
// key has none, so the bucket expires one window after first use.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
