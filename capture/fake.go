package capture

import (
	"context"
	"sync"
	"time"

	"shadowmaster/pcm"
)

// FakeRecorder returns a canned attempt without touching audio devices.
type FakeRecorder struct {
	Clip  *pcm.Clip
	Err   error
	Delay time.Duration
	Block bool

	mu     sync.Mutex
	limits []time.Duration
}

func (f *FakeRecorder) Record(ctx context.Context, limit time.Duration) (*pcm.Clip, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	block, delay, err, clip := f.Block, f.Delay, f.Err, f.Clip
	f.mu.Unlock()

	switch {
	case block:
		<-ctx.Done()
		return nil, ctx.Err()
	case delay > 0:
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if clip == nil {
		clip = pcm.Silence(500*time.Millisecond, pcm.SampleRate)
	}
	return clip, nil
}

func (f *FakeRecorder) SetBlock(block bool) {
	f.mu.Lock()
	f.Block = block
	f.mu.Unlock()
}

// Limits returns the limit passed to each Record call.
func (f *FakeRecorder) Limits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.limits...)
}
