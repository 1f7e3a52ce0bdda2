package backoff

import (
	"context"
	"time"
)

// SleepFunc blocks for d. A non-nil error abandons the retry loop.
type SleepFunc func(ctx context.Context, d time.Duration) error

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
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
