package resilience

import (
	"context"
	"math"
	"time"

	"github.com/NikhilSetiya/textbook-assistant/pkg/errors"
)

// Backoff computes the delay between attempts as
// min(BaseDelay * Multiplier^attempt, MaxDelay) for a zero-based attempt index.
type Backoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// Delay returns the pause that follows the given failed attempt
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt))
	if delay > float64(b.MaxDelay) || math.IsInf(delay, 0) {
		delay = float64(b.MaxDelay)
	}
	return time.Duration(delay)
}

// Total returns the accumulated delay of an operation that fails every one of
// maxAttempts attempts. No delay follows the final attempt.
func (b Backoff) Total(maxAttempts int) time.Duration {
	var total time.Duration
	for i := 0; i < maxAttempts-1; i++ {
		total += b.Delay(i)
	}
	return total
}

// SleepFunc pauses for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// ContextSleep is the default SleepFunc
func ContextSleep(ctx context.Context, d time.Duration) error {
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

// DefaultRetryableErrors retries timeouts and upstream failures only.
// An open circuit is never retried.
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}
	return errors.IsRetryable(err)
}
