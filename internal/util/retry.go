package util

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
)

// ErrPermanent marks an error that retrying cannot fix. Wrap it with
// fmt.Errorf("...: %w", ErrPermanent) to stop Retry early.
var ErrPermanent = errors.New("permanent failure")

// Retry calls fn until it succeeds, returns an error wrapping ErrPermanent,
// or maxAttempts calls have been made. Delays grow exponentially from
// baseDelay with jitter and are capped at 32×baseDelay. A cancelled context
// ends the loop with ctx.Err().
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := &backoff.Backoff{
		Min:    baseDelay,
		Max:    32 * baseDelay,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || attempt >= maxAttempts {
			return err
		}

		wait := b.Duration()
		if baseDelay <= 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
