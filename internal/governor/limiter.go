package governor

import (
	"context"
	"time"

	"tonegate/internal/constants"
	"tonegate/internal/logger"
	apperrors "tonegate/pkg/errors"
	"tonegate/pkg/metrics"
)

// Verdict is the outcome of an admission check.
type Verdict struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
	Remaining  int64
}

var admitted = Verdict{Allowed: true}

// SlidingWindow admits up to Limit calls per identity per Window. Counters
// live in the shared store so the limit holds fleet-wide. A store failure
// fails open: availability is preferred over strict enforcement.
type SlidingWindow struct {
	store  CounterStore
	name   string
	limit  int64
	window time.Duration
	logger logger.Logger
}

func NewSlidingWindow(store CounterStore, name string, limit int, window time.Duration, log logger.Logger) *SlidingWindow {
	return &SlidingWindow{
		store:  store,
		name:   name,
		limit:  int64(limit),
		window: window,
		logger: log,
	}
}

func (l *SlidingWindow) Admit(ctx context.Context, identity string) Verdict {
	key := constants.RateLimitKeyPrefix + l.name + ":" + identity

	count, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		metrics.RateLimitFailOpenTotal.WithLabelValues(l.name).Inc()
		l.logger.WarnwCtx(ctx, "Rate limit store unavailable, admitting request",
			"limiter", l.name,
			"error", err,
		)
		return admitted
	}

	if count > l.limit {
		retryAfter := l.window
		if ttl, err := l.store.TTL(ctx, key); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		metrics.RateLimitRequestsTotal.WithLabelValues(l.name, "limited").Inc()
		return Verdict{
			Allowed:    false,
			Reason:     "rate limit exceeded",
			RetryAfter: retryAfter,
		}
	}

	metrics.RateLimitRequestsTotal.WithLabelValues(l.name, "allowed").Inc()
	return Verdict{Allowed: true, Remaining: l.limit - count}
}

// DualWindow is the stricter admission path for anonymous previews: a short
// window and a daily window checked independently. Whichever is exceeded
// first names the rejection and supplies the retry-after.
type DualWindow struct {
	store       CounterStore
	minuteLimit int64
	dailyLimit  int64
	logger      logger.Logger
}

func NewDualWindow(store CounterStore, minuteLimit, dailyLimit int, log logger.Logger) *DualWindow {
	if minuteLimit <= 0 {
		minuteLimit = constants.DefaultPreviewPerMinute
	}
	if dailyLimit <= 0 {
		dailyLimit = constants.DefaultPreviewPerDay
	}
	return &DualWindow{
		store:       store,
		minuteLimit: int64(minuteLimit),
		dailyLimit:  int64(dailyLimit),
		logger:      log,
	}
}

func (l *DualWindow) Admit(ctx context.Context, identity string) Verdict {
	minuteKey := constants.PreviewMinuteKeyPrefix + identity
	dailyKey := constants.PreviewDailyKeyPrefix + identity

	minuteCount, err := l.store.Increment(ctx, minuteKey, time.Minute)
	if err != nil {
		return l.failOpen(ctx, err)
	}

	if minuteCount > l.minuteLimit {
		retryAfter := time.Minute
		if ttl, err := l.store.TTL(ctx, minuteKey); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		metrics.RateLimitRequestsTotal.WithLabelValues("preview", "limited").Inc()
		return Verdict{
			Allowed:    false,
			Reason:     "preview minute limit exceeded",
			RetryAfter: retryAfter,
		}
	}

	dailyCount, err := l.store.Increment(ctx, dailyKey, 24*time.Hour)
	if err != nil {
		return l.failOpen(ctx, err)
	}

	if dailyCount > l.dailyLimit {
		retryAfter := 24 * time.Hour
		if ttl, err := l.store.TTL(ctx, dailyKey); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		metrics.RateLimitRequestsTotal.WithLabelValues("preview", "limited").Inc()
		return Verdict{
			Allowed:    false,
			Reason:     "preview daily limit exceeded",
			RetryAfter: retryAfter,
		}
	}

	metrics.RateLimitRequestsTotal.WithLabelValues("preview", "allowed").Inc()
	remaining := l.minuteLimit - minuteCount
	if dailyRemaining := l.dailyLimit - dailyCount; dailyRemaining < remaining {
		remaining = dailyRemaining
	}
	return Verdict{Allowed: true, Remaining: remaining}
}

func (l *DualWindow) failOpen(ctx context.Context, err error) Verdict {
	metrics.RateLimitFailOpenTotal.WithLabelValues("preview").Inc()
	l.logger.WarnwCtx(ctx, "Preview limiter store unavailable, admitting request",
		"error", err,
	)
	return admitted
}

// RejectionError converts a non-allowed verdict to the RATE_LIMITED error.
func RejectionError(v Verdict) error {
	return apperrors.ErrRateLimited.
		WithDetail("message", v.Reason).
		WithDetail("retry_after_seconds", int(v.RetryAfter.Seconds()))
}
