package audio

import (
	"context"
	"sync"
	"time"

	"shadowmaster/pcm"
)

const (
	fakeFrameSize     = 1024
	fakeBytesPerFrame = 2 // 16-bit mono
)

// FakeContext stands in for the sound system in tests and in -test mode.
// Capture devices replay a fixed clip; the player only records what it was
// asked to play.
type FakeContext struct {
	pcm      []byte
	realtime bool
	Player   *FakePlayer
}

// NewFakeContext loads any file pcm.Decode understands as capture input.
func NewFakeContext(path string, realtime bool) (*FakeContext, error) {
	clip, err := pcm.Decode(path)
	if err != nil {
		return nil, err
	}
	return NewFakeContextFromClip(clip, realtime), nil
}

func NewFakeContextFromClip(clip *pcm.Clip, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:      clip.Bytes(),
		realtime: realtime,
		Player:   &FakePlayer{Realtime: realtime},
	}
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return nil, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	return &FakeCapture{pcm: f.pcm, realtime: f.realtime, audioDone: make(chan struct{})}, nil
}

func (f *FakeContext) NewPlayer() (Player, error) { return f.Player, nil }

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
}

// AudioDone is closed once the whole clip has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) callback() DataCallback {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos, chunkBytes int) int {
	end := min(pos+chunkBytes, len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/fakeBytesPerFrame))
	return end
}

// Start delivers the clip followed by endless silence. In realtime mode
// chunks are paced at the capture rate; otherwise the clip is delivered
// synchronously before Start returns.
func (f *FakeCapture) Start() error {
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := fakeFrameSize * fakeBytesPerFrame
	silence := make([]byte, chunkBytes)

	if !f.realtime {
		if cb := f.callback(); cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos, chunkBytes)
			}
		}
		close(f.audioDone)

		go func() {
			defer close(f.feedDone)
			for {
				select {
				case <-f.stopCh:
					return
				case <-time.After(time.Millisecond):
				}
				if cb := f.callback(); cb != nil {
					cb(silence, fakeFrameSize)
				}
			}
		}()
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(pcm.SampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		audioFinished := false
		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			cb := f.callback()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos, chunkBytes)
			} else {
				if !audioFinished {
					audioFinished = true
					close(f.audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
	f.audioDone = make(chan struct{}) // reset for replay
}

func (f *FakeCapture) Close() {}

// FakePlayer records every clip it is asked to play.
type FakePlayer struct {
	// Realtime makes Play take as long as the clip.
	Realtime bool
	// Block makes Play wait for ctx to be cancelled.
	Block bool
	Err   error

	mu     sync.Mutex
	played []*pcm.Clip
}

func (p *FakePlayer) Play(ctx context.Context, clip *pcm.Clip) error {
	p.mu.Lock()
	p.played = append(p.played, clip)
	block, realtime, err := p.Block, p.Realtime, p.Err
	p.mu.Unlock()

	if err != nil {
		return err
	}
	switch {
	case block:
		<-ctx.Done()
	case realtime:
		select {
		case <-time.After(clip.Duration()):
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}

func (p *FakePlayer) Played() []*pcm.Clip {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*pcm.Clip(nil), p.played...)
}

func (p *FakePlayer) SetBlock(block bool) {
	p.mu.Lock()
	p.Block = block
	p.mu.Unlock()
}

func (p *FakePlayer) SetErr(err error) {
	p.mu.Lock()
	p.Err = err
	p.mu.Unlock()
}
