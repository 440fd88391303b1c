package governor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tonegate/internal/logger"
)

type fakeStore struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	fail   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: map[string]int64{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("connection refused")
	}
	f.counts[key]++
	if f.counts[key] == 1 {
		f.ttls[key] = window
	}
	return f.counts[key], nil
}

func (f *fakeStore) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, errors.New("connection refused")
	}
	return f.ttls[key], nil
}

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	limiter := NewSlidingWindow(newFakeStore(), "api", 3, time.Minute, logger.NopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := limiter.Admit(ctx, "user-1")
		assert.True(t, v.Allowed, "request %d should pass", i+1)
	}

	v := limiter.Admit(ctx, "user-1")
	assert.False(t, v.Allowed)
	assert.Equal(t, "rate limit exceeded", v.Reason)
	assert.Equal(t, time.Minute, v.RetryAfter)
}

func TestSlidingWindowIdentitiesAreIndependent(t *testing.T) {
	limiter := NewSlidingWindow(newFakeStore(), "api", 1, time.Minute, logger.NopLogger())
	ctx := context.Background()

	assert.True(t, limiter.Admit(ctx, "user-1").Allowed)
	assert.False(t, limiter.Admit(ctx, "user-1").Allowed)
	assert.True(t, limiter.Admit(ctx, "user-2").Allowed)
}

func TestSlidingWindowFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	limiter := NewSlidingWindow(store, "api", 1, time.Minute, logger.NopLogger())

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Admit(context.Background(), "user-1").Allowed)
	}
}

func TestDualWindowMinuteLimit(t *testing.T) {
	limiter := NewDualWindow(newFakeStore(), 3, 10, logger.NopLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Admit(ctx, "1.2.3.4").Allowed)
	}

	v := limiter.Admit(ctx, "1.2.3.4")
	assert.False(t, v.Allowed)
	assert.Equal(t, "preview minute limit exceeded", v.Reason)
	assert.Equal(t, time.Minute, v.RetryAfter)
}

func TestDualWindowDailyLimit(t *testing.T) {
	store := newFakeStore()
	limiter := NewDualWindow(store, 3, 10, logger.NopLogger())
	ctx := context.Background()

	// Simulate earlier minutes already consumed today.
	for i := 0; i < 8; i++ {
		store.Increment(ctx, "preview:rate:daily:1.2.3.4", 24*time.Hour)
	}

	assert.True(t, limiter.Admit(ctx, "1.2.3.4").Allowed)
	assert.True(t, limiter.Admit(ctx, "1.2.3.4").Allowed)

	v := limiter.Admit(ctx, "1.2.3.4")
	assert.False(t, v.Allowed)
	assert.Equal(t, "preview daily limit exceeded", v.Reason)
	assert.Equal(t, 24*time.Hour, v.RetryAfter)
}

func TestDualWindowFailsOpen(t *testing.T) {
	store := newFakeStore()
	store.fail = true
	limiter := NewDualWindow(store, 1, 1, logger.NopLogger())

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Admit(context.Background(), "1.2.3.4").Allowed)
	}
}

func TestRejectionError(t *testing.T) {
	v := Verdict{Allowed: false, Reason: "preview minute limit exceeded", RetryAfter: 42 * time.Second}
	err := RejectionError(v)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMITED")
}
