package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/xhad/pdfchat/internal/types"
)

// RetryPolicy wraps an external call with bounded Fibonacci backoff.
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewFibonacci(base)
	if p.MaxDelay > 0 {
		b = retry.WithCappedDuration(p.MaxDelay, b)
	}
	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return retry.WithMaxRetries(uint64(retries), b)
}

// Do runs op until it succeeds, fails permanently, or the retries run out.
// Each attempt gets its own timeout; a timed-out attempt counts as transient.
// Exhaustion is reported as a *types.ServiceError for service. Cancellation
// of ctx itself is returned as ctx.Err().
func (p RetryPolicy) Do(ctx context.Context, service string, op func(ctx context.Context) error) error {
	attempts := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		err := op(attemptCtx)
		cancel()

		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case isPermanent(err):
			return err
		}
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case isPermanent(err):
		return err
	}
	return &types.ServiceError{Service: service, Attempts: attempts, Err: err}
}

func isPermanent(err error) bool {
	return errors.Is(err, types.ErrDimensionMismatch) || errors.Is(err, types.ErrValidation)
}
