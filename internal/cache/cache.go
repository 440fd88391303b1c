package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"tonegate/internal/logger"
	"tonegate/pkg/metrics"
)

// ErrMiss is returned when a key is in neither tier.
var ErrMiss = errors.New("cache miss")

// RemoteStore is the shared tier-2 store. Implemented by RedisStore;
// faked in tests.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStore adapts a redis client to RemoteStore.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	return val, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// TieredCache is a two-tier content-addressed cache: a bounded in-process
// LRU in front of a shared TTL store. The remote tier is best effort; its
// failures degrade to local-only operation and are never surfaced.
type TieredCache struct {
	local  *lru.Cache[string, []byte]
	remote RemoteStore
	ttl    time.Duration
	logger logger.Logger
}

func NewTieredCache(capacity int, remote RemoteStore, ttl time.Duration, log logger.Logger) (*TieredCache, error) {
	local, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, err
	}

	return &TieredCache{
		local:  local,
		remote: remote,
		ttl:    ttl,
		logger: log,
	}, nil
}

// Get reads tier 1 first, then tier 2, backfilling tier 1 on a remote hit.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if value, ok := c.local.Get(key); ok {
		metrics.CacheOperationsTotal.WithLabelValues("get", "local", "hit").Inc()
		return value, nil
	}
	metrics.CacheOperationsTotal.WithLabelValues("get", "local", "miss").Inc()

	if c.remote == nil {
		return nil, ErrMiss
	}

	value, err := c.remote.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			metrics.CacheOperationsTotal.WithLabelValues("get", "remote", "miss").Inc()
			return nil, ErrMiss
		}
		metrics.CacheOperationsTotal.WithLabelValues("get", "remote", "error").Inc()
		c.logger.WarnwCtx(ctx, "Remote cache read failed, treating as miss",
			"error", err,
		)
		return nil, ErrMiss
	}

	metrics.CacheOperationsTotal.WithLabelValues("get", "remote", "hit").Inc()
	c.local.Add(key, value)
	return value, nil
}

// Set writes through both tiers with the default TTL.
func (c *TieredCache) Set(ctx context.Context, key string, value []byte) {
	c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL writes through both tiers. Remote failures are logged and
// swallowed; the local tier has no per-entry expiry, eviction is LRU only.
func (c *TieredCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.local.Add(key, value)
	metrics.CacheOperationsTotal.WithLabelValues("set", "local", "ok").Inc()

	if c.remote == nil {
		return
	}

	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		metrics.CacheOperationsTotal.WithLabelValues("set", "remote", "error").Inc()
		c.logger.WarnwCtx(ctx, "Remote cache write failed, local tier still updated",
			"error", err,
		)
		return
	}
	metrics.CacheOperationsTotal.WithLabelValues("set", "remote", "ok").Inc()
}

// Delete removes the key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	c.local.Remove(key)

	if c.remote == nil {
		return
	}

	if err := c.remote.Delete(ctx, key); err != nil {
		c.logger.WarnwCtx(ctx, "Remote cache delete failed",
			"error", err,
		)
	}
}

// GetJSON unmarshals a cached value into dest.
func (c *TieredCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals value and writes it through both tiers.
func (c *TieredCache) SetJSON(ctx context.Context, key string, value interface{}) error {
	return c.SetJSONWithTTL(ctx, key, value, c.ttl)
}

// SetJSONWithTTL marshals value and writes it through both tiers with an
// explicit remote TTL.
func (c *TieredCache) SetJSONWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.SetWithTTL(ctx, key, data, ttl)
	return nil
}
