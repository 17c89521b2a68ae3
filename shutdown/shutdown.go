// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"os"
)

// Context returns a context cancelled by the first termination signal.
// onSignal, when non-nil, runs with the signal before cancellation.
func Context(parent context.Context, onSignal func(os.Signal)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 1)
	Notify(sig)
	go func() {
		defer Stop(sig)
		select {
		case s := <-sig:
			if onSignal != nil {
				onSignal(s)
			}
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
