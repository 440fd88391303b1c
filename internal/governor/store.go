package governor

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the shared counter backend for the limiters. Counters must
// increment atomically so the limits hold across instances.
type CounterStore interface {
	// Increment atomically bumps key, setting window as its expiry when the
	// counter is created by this call, and returns the new count.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// TTL reports how long until key expires.
	TTL(ctx context.Context, key string) (time.Duration, error)
}

type RedisCounterStore struct {
	client *redis.Client
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		// A counter whose expiry was lost would limit this identity
		// forever; surface the failure so the limiter fails open.
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

func (s *RedisCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.TTL(ctx, key).Result()
}
