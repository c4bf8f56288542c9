package cloud

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spothive/spothive/pkg/config"
)

// ResilientAPI wraps a cloud API with client-side rate limiting and bounded
// exponential backoff. Provider throttling is the common transient failure;
// the limiter keeps us under the provider's request budget and the backoff
// absorbs the rest.
type ResilientAPI struct {
	logger  *zap.Logger
	inner   API
	limiter *rate.Limiter
	cfg     config.ExecutorConfig
}

// NewResilientAPI wraps inner with the retry and rate settings from cfg.
func NewResilientAPI(logger *zap.Logger, inner API, cfg config.ExecutorConfig) *ResilientAPI {
	return &ResilientAPI{
		logger:  logger,
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.CloudRateLimit), cfg.CloudRateBurst),
		cfg:     cfg,
	}
}

func (r *ResilientAPI) withRetry(ctx context.Context, op string, fn func() error) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryInitialInterval
	bo.MaxInterval = r.cfg.RetryMaxInterval

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := fn(); err != nil {
			r.logger.Debug("Cloud API call failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.cfg.MaxRetries)), ctx))
	if err != nil {
		return fmt.Errorf("%s exhausted %d retries: %w", op, r.cfg.MaxRetries, err)
	}
	return nil
}

func (r *ResilientAPI) LaunchSpot(ctx context.Context, req LaunchRequest) (string, error) {
	var instanceID string
	err := r.withRetry(ctx, "launch_spot", func() error {
		var err error
		instanceID, err = r.inner.LaunchSpot(ctx, req)
		return err
	})
	return instanceID, err
}

func (r *ResilientAPI) TerminateInstance(ctx context.Context, instanceID, token string) error {
	return r.withRetry(ctx, "terminate_instance", func() error {
		return r.inner.TerminateInstance(ctx, instanceID, token)
	})
}

func (r *ResilientAPI) DetachVolume(ctx context.Context, volumeID, instanceID string) error {
	return r.withRetry(ctx, "detach_volume", func() error {
		return r.inner.DetachVolume(ctx, volumeID, instanceID)
	})
}

func (r *ResilientAPI) UpdateASGCapacity(ctx context.Context, asgName string, desired int) error {
	return r.withRetry(ctx, "update_asg", func() error {
		return r.inner.UpdateASGCapacity(ctx, asgName, desired)
	})
}
