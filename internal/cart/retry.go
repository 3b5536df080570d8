package cart

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"storefront-cart/internal/model"
)

const (
	defaultRetryAttempts = 3
	defaultRetryInterval = 200 * time.Millisecond
	maxRetryInterval     = 2 * time.Second
)

type retryPolicy struct {
	attempts uint64
	interval time.Duration
}

func newRetryPolicy(attempts uint64, interval time.Duration) retryPolicy {
	if attempts == 0 {
		attempts = defaultRetryAttempts
	}
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return retryPolicy{attempts: attempts, interval: interval}
}

// retryTransient runs op until it succeeds, fails with a non-transient
// error or the policy is exhausted. Only idempotent calls go through here.
func retryTransient[T any](ctx context.Context, p retryPolicy, logger *slog.Logger, name string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0

	return backoff.RetryNotifyWithData(
		func() (T, error) {
			v, err := op()
			if err != nil && model.Classify(err) != model.KindTransient {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithContext(backoff.WithMaxRetries(b, p.attempts), ctx),
		func(err error, wait time.Duration) {
			logger.Debug("retrying backend call",
				slog.String("call", name),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		},
	)
}

// fetch loads and recomputes the server cart.
func (e *Engine) fetch(ctx context.Context) (*model.CartSnapshot, error) {
	snap, err := retryTransient(ctx, e.retry, e.logger, "fetch", func() (*model.CartSnapshot, error) {
		return e.gw.Fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	if err := snap.Recalculate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// commitRemote asks the backend to save the session cart.
func (e *Engine) commitRemote(ctx context.Context) (*model.CartSnapshot, error) {
	snap, err := retryTransient(ctx, e.retry, e.logger, "commit", func() (*model.CartSnapshot, error) {
		return e.gw.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}
	if err := snap.Recalculate(); err != nil {
		return nil, err
	}
	return snap, nil
}
