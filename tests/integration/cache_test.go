package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonegate/internal/cache"
)

func TestTieredCacheAgainstRedis(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	writer, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)

	writer.Set(ctx, "shared:key", []byte("payload"))

	// A second instance with a cold local tier must read through redis.
	reader, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)

	value, err := reader.Get(ctx, "shared:key")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), value)

	// Delete clears both tiers for this instance; a cold instance misses.
	writer.Delete(ctx, "shared:key")
	_, err = writer.Get(ctx, "shared:key")
	assert.ErrorIs(t, err, cache.ErrMiss)

	cold, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)
	_, err = cold.Get(ctx, "shared:key")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestTieredCacheJSONRoundTripThroughRedis(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	type payload struct {
		Text      string `json:"text"`
		Intensity int    `json:"intensity"`
	}

	writer, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)
	require.NoError(t, writer.SetJSON(ctx, "json:key", payload{Text: "softened", Intensity: 2}))

	reader, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)

	var out payload
	require.NoError(t, reader.GetJSON(ctx, "json:key", &out))
	assert.Equal(t, "softened", out.Text)
	assert.Equal(t, 2, out.Intensity)
}

func TestTieredCacheTTLExpiresInRedis(t *testing.T) {
	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	writer, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)
	writer.SetWithTTL(ctx, "short:key", []byte("gone soon"), time.Second)

	reader, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
	require.NoError(t, err)

	_, err = reader.Get(ctx, "short:key")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		fresh, err := cache.NewTieredCache(8, cache.NewRedisStore(infra.RedisClient), time.Minute, createTestLogger())
		if err != nil {
			return false
		}
		_, err = fresh.Get(ctx, "short:key")
		return err != nil
	}, 5*time.Second, 250*time.Millisecond)
}
