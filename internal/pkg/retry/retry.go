package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Policy is a bounded retry with a fixed (linear) backoff.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Retryable decides whether a failed attempt may be retried. Defaults to IsTimeout.
	Retryable func(error) bool
	// OnRetry is called before sleeping between attempts.
	OnRetry func(attempt int, err error)
	// Sleep waits between attempts; tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy is five attempts, two seconds apart, retrying only timeouts.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Backoff: 2 * time.Second}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or attempts run out.
// The returned error wraps the last failure with the attempt number.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTimeout
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if attempt >= maxAttempts || !retryable(err) {
			return fmt.Errorf("attempt %d/%d: %w", attempt, maxAttempts, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, p.Backoff); serr != nil {
			return fmt.Errorf("attempt %d/%d: %w", attempt, maxAttempts, errors.Join(err, serr))
		}
	}
}

// IsTimeout reports transport-timeout failures, the only class eligible for retry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
