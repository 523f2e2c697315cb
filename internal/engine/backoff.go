package engine

import (
	"context"
	"time"
)

// backoff is the exponential delay between reconnect attempts.
type backoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	currentDelay time.Duration
}

func newBackoff(initialDelay, maxDelay time.Duration, multiplier float64) *backoff {
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if maxDelay < initialDelay {
		maxDelay = initialDelay
	}
	return &backoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		multiplier:   multiplier,
		currentDelay: initialDelay,
	}
}

// wait sleeps for the current delay, then grows it. It returns early with
// ctx.Err() on cancellation, or nil when wake fires.
func (b *backoff) wait(ctx context.Context, wake <-chan struct{}) error {
	t := time.NewTimer(b.currentDelay)
	defer t.Stop()

	select {
	case <-t.C:
		b.currentDelay = time.Duration(float64(b.currentDelay) * b.multiplier)
		if b.currentDelay > b.maxDelay {
			b.currentDelay = b.maxDelay
		}
		return nil
	case <-wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *backoff) reset() {
	b.currentDelay = b.initialDelay
}
