// internal/scenario/poll.go
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a polled condition does not hold before its deadline.
var ErrTimeout = errors.New("timed out")

// Condition is checked by Poll. An error does not stop polling; the most
// recent one is reported if the deadline passes.
type Condition func(ctx context.Context) (bool, error)

// Poll checks cond immediately and then every interval until it holds or
// timeout elapses. It returns nil on success, an error wrapping ErrTimeout on
// expiry and ctx.Err() if ctx ends first. Poll returns no later than one
// interval after the deadline.
func Poll(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	var lastErr error
	attempts := 0
	for {
		attempts++
		ok, err := cond(ctx)
		if ok && err == nil {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if lastErr != nil {
				return fmt.Errorf("%w after %s (%d checks): %w", ErrTimeout, timeout, attempts, lastErr)
			}
			return fmt.Errorf("%w after %s (%d checks)", ErrTimeout, timeout, attempts)
		}

		wait := interval
		if remaining < wait {
			wait = remaining
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
