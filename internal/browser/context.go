// internal/browser/context.go
package browser

import (
	"context"
)

// combineContext derives from primary (which carries the chromedp target) and
// is also canceled when secondary is done. chromedp actions need the target
// values from primary while honoring the caller's deadline in secondary.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	if deadline, ok := secondary.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		combined, cancelDeadline = context.WithDeadline(combined, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// detach is used for teardown work that must outlive an already-canceled caller.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
