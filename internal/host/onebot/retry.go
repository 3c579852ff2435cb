package onebot

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// retryPolicy controls backoff for transient host failures.
type retryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 4 * time.Second}
}

// errPermanent marks failures that retrying will not fix.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

func permanent(err error) error { return errPermanent{err: err} }

// withRetry runs fn until it succeeds, returns a permanent error, ctx ends,
// or the retry budget is spent. Returns the attempt count.
func withRetry(ctx context.Context, p retryPolicy, fn func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		var perm errPermanent
		if errors.As(err, &perm) {
			return attempt + 1, perm.err
		}
		if attempt == p.MaxRetries {
			break
		}
		t := time.NewTimer(backoffWithJitter(p.BaseDelay, p.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return attempt + 1, ctx.Err()
		case <-t.C:
		}
	}
	return p.MaxRetries + 1, err
}

// backoffWithJitter is min(base*2^attempt, max) with ±25% jitter.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}
