package util

import (
	"context"
	"math"
	"time"
)

// WaitForRetry blocks for the given duration and exits early when context is canceled.
func WaitForRetry(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// ExponentialBackoff returns factor * 2^attempt. Attempts are counted from 1.
// The result saturates at math.MaxInt64 instead of overflowing.
func ExponentialBackoff(factor time.Duration, attempt int) time.Duration {
	if factor <= 0 || attempt < 0 {
		return 0
	}
	if attempt >= 62 {
		return time.Duration(math.MaxInt64)
	}
	mult := int64(1) << uint(attempt)
	if int64(factor) > math.MaxInt64/mult {
		return time.Duration(math.MaxInt64)
	}
	return factor * time.Duration(mult)
}
