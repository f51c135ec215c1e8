package db

import (
	"context"
	"time"
)

// RetryPolicy bounds WithRetry. Zero values fall back to defaults.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 50 * time.Millisecond
	}
	return p
}

// WithRetry runs fn again after transient storage errors, with linear backoff.
// Only use it for operations that converge when repeated (generation, accrual).
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransientErr(err) || attempt == policy.Attempts {
			return err
		}
		timer := time.NewTimer(time.Duration(attempt) * policy.BaseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
