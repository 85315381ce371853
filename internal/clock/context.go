package clock

import (
	"context"
	"time"
)

// SleepContext sleeps for d on clk, returning early with ctx.Err() if ctx is
// canceled first. Every suspension point in the queue, engine, and
// reconciler goes through this instead of a bare clk.Sleep so a shutdown
// signal interrupts retry/backoff/poll waits within one tick (spec §5).
func SleepContext(ctx context.Context, clk Clock, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(d):
		return nil
	}
}
