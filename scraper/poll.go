package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollTimeout is returned when a polled condition never held.
var ErrPollTimeout = errors.New("poll: condition not met")

// Poll bounds a wait. At least one of Timeout or MaxAttempts should be set;
// with neither the condition is checked exactly once.
type Poll struct {
	Timeout     time.Duration
	Interval    time.Duration
	MaxAttempts int
}

// Condition reports whether the awaited state holds. An error counts as
// "not yet" and is kept as the cause if polling gives up.
type Condition func(ctx context.Context) (bool, error)

// PollUntil checks cond until it holds, the bounds in p are exhausted or ctx
// is done. It returns the number of checks made.
func PollUntil(ctx context.Context, p Poll, cond Condition) (int, error) {
	var deadline time.Time
	if p.Timeout > 0 {
		deadline = time.Now().Add(p.Timeout)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		ok, err := cond(ctx)
		if ok && err == nil {
			return attempt, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}

		exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts
		if !deadline.IsZero() && !time.Now().Add(p.Interval).Before(deadline) {
			exhausted = true
		}
		if p.MaxAttempts <= 0 && deadline.IsZero() {
			exhausted = true
		}
		if exhausted {
			if lastErr != nil {
				return attempt, fmt.Errorf("%w after %d attempts: %w", ErrPollTimeout, attempt, lastErr)
			}
			return attempt, fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempt)
		}

		if p.Interval > 0 {
			timer := time.NewTimer(p.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt, ctx.Err()
			case <-timer.C:
			}
		}
	}
}
