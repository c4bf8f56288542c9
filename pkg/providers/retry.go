package providers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spothive/spothive/pkg/domain"
)

// RetryPolicy bounds the exponential backoff applied to transient provider
// failures. When retries exhaust, the caller drops the affected candidate
// with a recorded reason rather than failing the whole request.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy matches the executor's cloud retry defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.MaxRetries)), ctx)
}

func retryFloat(ctx context.Context, policy RetryPolicy, fn func() (float64, error)) (float64, error) {
	var value float64
	err := backoff.Retry(func() error {
		var err error
		value, err = fn()
		return err
	}, policy.backoff(ctx))
	return value, err
}

// RetryingPriceProvider retries transient price lookups with bounded
// exponential backoff.
type RetryingPriceProvider struct {
	upstream PriceProvider
	policy   RetryPolicy
}

// NewRetryingPriceProvider wraps upstream with the given policy.
func NewRetryingPriceProvider(upstream PriceProvider, policy RetryPolicy) *RetryingPriceProvider {
	return &RetryingPriceProvider{upstream: upstream, policy: policy}
}

func (r *RetryingPriceProvider) SpotPrice(ctx context.Context, pool domain.Pool) (float64, error) {
	return retryFloat(ctx, r.policy, func() (float64, error) {
		return r.upstream.SpotPrice(ctx, pool)
	})
}

func (r *RetryingPriceProvider) OnDemandPrice(ctx context.Context, pool domain.Pool) (float64, error) {
	return retryFloat(ctx, r.policy, func() (float64, error) {
		return r.upstream.OnDemandPrice(ctx, pool)
	})
}

// RetryingSpotAdvisor retries transient advisor lookups with bounded
// exponential backoff.
type RetryingSpotAdvisor struct {
	upstream SpotAdvisor
	policy   RetryPolicy
}

// NewRetryingSpotAdvisor wraps upstream with the given policy.
func NewRetryingSpotAdvisor(upstream SpotAdvisor, policy RetryPolicy) *RetryingSpotAdvisor {
	return &RetryingSpotAdvisor{upstream: upstream, policy: policy}
}

func (r *RetryingSpotAdvisor) InterruptionFrequency(ctx context.Context, pool domain.Pool) (float64, error) {
	return retryFloat(ctx, r.policy, func() (float64, error) {
		return r.upstream.InterruptionFrequency(ctx, pool)
	})
}
