package transform

import (
	"context"
	"time"

	"tonegate/internal/cache"
	"tonegate/internal/constants"
	"tonegate/internal/logger"
	"tonegate/pkg/circuitbreaker"
	apperrors "tonegate/pkg/errors"
	"tonegate/pkg/metrics"
	"tonegate/pkg/tracing"
)

// Transformer is the remote capability surface, satisfied by *Client.
type Transformer interface {
	Transform(ctx context.Context, text, transformationType string, intensity int, options map[string]interface{}) (*Result, error)
	Analyze(ctx context.Context, text string, types []string) (*Analysis, error)
}

// Service fronts the transformer with the two-tier cache and a circuit
// breaker. Identical (type, intensity, text) inputs hit the cache.
type Service struct {
	client  Transformer
	breaker *circuitbreaker.Wrapper
	cache   *cache.TieredCache
	timeout time.Duration
	logger  logger.Logger
}

func NewService(client Transformer, breaker *circuitbreaker.Wrapper, tiered *cache.TieredCache, timeout time.Duration, log logger.Logger) *Service {
	if timeout <= 0 {
		timeout = constants.DefaultTransformTimeout
	}
	return &Service{
		client:  client,
		breaker: breaker,
		cache:   tiered,
		timeout: timeout,
		logger:  log,
	}
}

// Apply transforms text, consulting the cache first. On a miss the remote
// call runs under the breaker; a caller cancellation mid-flight lets the
// call finish on a detached context so the cache still gets populated, but
// the result is not returned to the canceled caller.
func (s *Service) Apply(ctx context.Context, text, transformationType string, intensity int, options map[string]interface{}) (*Result, error) {
	ctx, span := tracing.GetTracer("transform-service").Start(ctx, "transform.apply")
	defer span.End()

	start := time.Now()
	key := cache.Fingerprint(transformationType, intensity, text)

	if s.cache != nil {
		var cached Result
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil {
			metrics.TransformRequestsTotal.WithLabelValues("cache_hit").Inc()
			return &cached, nil
		}
	}

	result, err := s.executeTransform(ctx, key, text, transformationType, intensity, options)

	status := "success"
	if err != nil {
		status = "error"
		if apperrors.IsDependencyUnavailable(err) {
			status = "unavailable"
		}
	}
	metrics.TransformRequestsTotal.WithLabelValues(status).Inc()
	metrics.ObserveTransformDuration(time.Since(start), status)

	return result, err
}

// Analyze runs through the same breaker; analysis results are not cached
// because the consumers want point-in-time scores.
func (s *Service) Analyze(ctx context.Context, text string, types []string) (*Analysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.breaker.ExecuteWithContext(callCtx, func() (interface{}, error) {
		return s.client.Analyze(callCtx, text, types)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Analysis), nil
}

type transformOutcome struct {
	result *Result
	err    error
}

func (s *Service) executeTransform(ctx context.Context, key, text, transformationType string, intensity int, options map[string]interface{}) (*Result, error) {
	// The call itself runs on a detached context bounded only by the
	// request timeout, so a caller hang-up does not waste completed work.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)

	done := make(chan transformOutcome, 1)
	go func() {
		defer cancel()
		out, err := s.breaker.ExecuteWithContext(callCtx, func() (interface{}, error) {
			return s.client.Transform(callCtx, text, transformationType, intensity, options)
		})
		if err != nil {
			done <- transformOutcome{err: err}
			return
		}
		result := out.(*Result)
		if s.cache != nil {
			if err := s.cache.SetJSON(callCtx, key, result); err != nil {
				s.logger.WarnwCtx(callCtx, "failed to cache transform result",
					"error", err,
				)
			}
		}
		done <- transformOutcome{result: result}
	}()

	select {
	case outcome := <-done:
		return outcome.result, outcome.err
	case <-ctx.Done():
		s.logger.DebugwCtx(ctx, "caller canceled mid-transform, completing for cache")
		return nil, ctx.Err()
	}
}
