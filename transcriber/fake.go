package transcriber

import (
	"context"
	"fmt"
	"sync"

	"shadowmaster/pcm"
)

// FakeTranscriber returns canned text. ByClip overrides Text for specific
// clips, matched by identity.
type FakeTranscriber struct {
	baseTranscriber
	text string
	err  error

	mu     sync.Mutex
	byClip map[*pcm.Clip]string
	calls  int
}

func NewFake(text string, err error) *FakeTranscriber {
	return &FakeTranscriber{text: text, err: err, byClip: map[*pcm.Clip]string{}}
}

func (f *FakeTranscriber) Name() string { return "fake" }

func (f *FakeTranscriber) Set(clip *pcm.Clip, text string) {
	f.mu.Lock()
	f.byClip[clip] = text
	f.mu.Unlock()
}

func (f *FakeTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, clip *pcm.Clip) (*Result, error) {
	f.mu.Lock()
	f.calls++
	text, ok := f.byClip[clip]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, fmt.Errorf("fake transcriber error: %w", f.err)
	}
	if !ok {
		text = f.text
	}
	return &Result{
		Text:     text,
		Language: f.lang,
		Duration: clip.Duration().Seconds(),
		Metrics:  &NetworkMetrics{},
	}, nil
}
