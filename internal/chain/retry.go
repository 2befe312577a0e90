package chain

import (
	"context"
	"time"
)

// WithRetry runs fn up to attempts times with linear backoff: the delay
// grows by one step after every failed attempt.
func WithRetry(ctx context.Context, attempts int, step time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if step <= 0 {
		step = 100 * time.Millisecond
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(step * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
