package tracker

import (
	"context"
	"time"
)

// sleepOrDone waits for d, returning ctx.Err() early if ctx is canceled
// first. Used by the IPC poll-with-sleep loops (spec.md §4.5.3).
func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
