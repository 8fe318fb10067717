package store

import (
	"context"
	"time"

	"codeberg.org/mutker/pzemd/internal/errors"
	"codeberg.org/mutker/pzemd/internal/logger"
	"github.com/cenkalti/backoff/v4"
)

// retrying wraps a Store with bounded exponential backoff on queries and
// writes. Ping and Close pass straight through so health probes stay fast.
type retrying struct {
	next   Store
	policy RetryPolicy
	logger logger.Logger
}

// WithRetry decorates s. A policy with MaxRetries <= 0 returns s unchanged.
func WithRetry(s Store, policy RetryPolicy, log logger.Logger) Store {
	if policy.MaxRetries <= 0 {
		return s
	}
	return &retrying{next: s, policy: policy, logger: log}
}

func (r *retrying) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if r.policy.InitialInterval > 0 {
		eb.InitialInterval = r.policy.InitialInterval
	}
	if r.policy.MaxInterval > 0 {
		eb.MaxInterval = r.policy.MaxInterval
	}
	eb.MaxElapsedTime = r.policy.MaxElapsed
	eb.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.policy.MaxRetries)), ctx)
}

func (r *retrying) do(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Debug().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("retry_in", wait).
			Msg("Store call failed, retrying")
	}

	return backoff.RetryNotify(operation, r.newBackOff(ctx), notify)
}

func isPermanent(err error) bool {
	return errors.HasCode(err, ErrInvalidField) || errors.HasCode(err, ErrClosed)
}

func (r *retrying) LastValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error) {
	var (
		v     float64
		found bool
	)
	err := r.do(ctx, "last_value", func() error {
		var err error
		v, found, err = r.next.LastValue(ctx, field, start, stop)
		return err
	})
	return v, found, err
}

func (r *retrying) FirstValue(ctx context.Context, field string, start, stop time.Time) (float64, bool, error) {
	var (
		v     float64
		found bool
	)
	err := r.do(ctx, "first_value", func() error {
		var err error
		v, found, err = r.next.FirstValue(ctx, field, start, stop)
		return err
	})
	return v, found, err
}

func (r *retrying) WriteRealtime(ctx context.Context, rec *Realtime) error {
	return r.do(ctx, "write_realtime", func() error { return r.next.WriteRealtime(ctx, rec) })
}

func (r *retrying) WriteAlert(ctx context.Context, rec *Alert) error {
	return r.do(ctx, "write_alert", func() error { return r.next.WriteAlert(ctx, rec) })
}

func (r *retrying) WriteHealth(ctx context.Context, rec *Health) error {
	return r.do(ctx, "write_health", func() error { return r.next.WriteHealth(ctx, rec) })
}

func (r *retrying) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *retrying) Close() error {
	return r.next.Close()
}
