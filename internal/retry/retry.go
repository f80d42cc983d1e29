// Package retry provides an explicit retry policy for the push-channel
// reconnect loop: a bounded attempt count and a delay function, consumed
// through an injectable sleeper so tests run without real timers.
package retry

import (
	"context"
	"time"
)

// Policy describes how many times to retry and how long to wait before each
// attempt. Delay receives the 1-based attempt number.
type Policy struct {
	MaxAttempts int
	Delay       func(attempt int) time.Duration
}

// Linear returns a policy whose delay grows as attempt * unit.
func Linear(maxAttempts int, unit time.Duration) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Delay:       func(attempt int) time.Duration { return time.Duration(attempt) * unit },
	}
}

// Sleeper waits for a duration or until the context is done. The default
// implementation uses a real timer; tests substitute a recording fake.
type Sleeper func(ctx context.Context, d time.Duration) error

// RealSleeper waits on a timer, honoring context cancellation.
func RealSleeper(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run invokes fn until it succeeds or the policy is exhausted. The first
// call happens immediately; before retry N the policy's Delay(N) elapses.
// Returns the last error when every attempt fails, or the context error when
// canceled mid-wait.
func (p Policy) Run(ctx context.Context, sleep Sleeper, fn func(attempt int) error) error {
	if sleep == nil {
		sleep = RealSleeper
	}
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(attempt)
		if last == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		var d time.Duration
		if p.Delay != nil {
			d = p.Delay(attempt)
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	return last
}
