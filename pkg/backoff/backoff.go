// Package backoff provides a small bounded exponential retry helper for
// outbound collaborator calls.
package backoff

import (
	"context"
	"math/rand"
	"time"

	apperrors "github.com/nqluong/appointment-microservice-sub001/pkg/errors"
)

const jitterWindow = 250 * time.Millisecond

// Policy describes a bounded exponential retry schedule.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration
	// Multiplier scales the delay between consecutive attempts.
	Multiplier int
}

// DefaultPolicy matches the outbound call schedule: three attempts with
// delays of 1s then 2s between them.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	return p
}

// Retry runs fn up to p.Attempts times, sleeping between tries with
// exponential backoff plus jitter. It stops immediately on success, on a
// non-retryable error, or when ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	delay := p.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.Attempts {
			break
		}

		if err := sleep(ctx, withJitter(delay)); err != nil {
			return lastErr
		}
		delay *= time.Duration(p.Multiplier)
	}
	return lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// withJitter uses the locked top-level rand source; retries run from
// concurrent consumer goroutines.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(jitterWindow)))
}
