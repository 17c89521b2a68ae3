package assess

import (
	"context"
	"sync"
	"time"

	"shadowmaster/pcm"
	"shadowmaster/session"
)

// Fake returns a fixed result after an optional delay.
type Fake struct {
	Result session.AssessmentResult
	Err    error
	Delay  time.Duration

	mu    sync.Mutex
	calls int
}

func (f *Fake) Assess(ctx context.Context, _, _ *pcm.Clip) (session.AssessmentResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return session.AssessmentResult{}, ctx.Err()
		}
	}
	if f.Err != nil {
		return session.AssessmentResult{}, f.Err
	}
	return f.Result, nil
}

func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
