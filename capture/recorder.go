package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shadowmaster/audio"
	"shadowmaster/log"
	"shadowmaster/pcm"
	"shadowmaster/segmenter"
)

// ErrNoSpeech is returned with the captured clip when the learner never
// spoke during an attempt.
var ErrNoSpeech = errors.New("no speech in attempt")

type Recorder interface {
	// Record captures one attempt of at most limit.
	Record(ctx context.Context, limit time.Duration) (*pcm.Clip, error)
}

const DefaultTrailingSilence = 1200 * time.Millisecond

// MicRecorder records attempts from a capture device. An attempt ends at
// the limit, or earlier once the learner has spoken and then stayed quiet
// for Trailing.
//
// Attempts are recorded one at a time.
type MicRecorder struct {
	dev      audio.CaptureDevice
	vp       *vadProcessor
	Trailing time.Duration
}

func NewMicRecorder(dev audio.CaptureDevice, vad segmenter.Classifier) *MicRecorder {
	return &MicRecorder{dev: dev, vp: newVADProcessor(vad), Trailing: DefaultTrailingSilence}
}

func (r *MicRecorder) Record(ctx context.Context, limit time.Duration) (*pcm.Clip, error) {
	vp := r.vp
	vp.Reset()
	mon := newEndpointMonitor(r.Trailing)
	maxSamples := int(int64(limit) * pcm.SampleRate / int64(time.Second))

	var mu sync.Mutex
	samples := make([]int16, 0, maxSamples)
	r.dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		if room := maxSamples - len(samples); room > 0 {
			in := pcm.FromBytes(data, pcm.SampleRate).Samples
			samples = append(samples, in[:min(room, len(in))]...)
		}
		mu.Unlock()
		vp.Process(data)
	})
	if err := r.dev.Start(); err != nil {
		r.dev.ClearCallback()
		return nil, fmt.Errorf("starting capture on %s: %w", r.dev.DeviceName(), err)
	}
	stopped := false
	stop := func() {
		if !stopped {
			stopped = true
			r.dev.Stop()
			r.dev.ClearCallback()
		}
	}
	defer stop()

	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			break loop
		case <-ticker.C:
			switch mon.Tick(vp.HasSpeechTick()) {
			case EndpointSpeechStarted:
				log.Info("attempt_speech_started")
			case EndpointDone:
				break loop
			}
		}
	}
	stop()

	mu.Lock()
	clip := pcm.New(samples, pcm.SampleRate)
	mu.Unlock()

	total, speech := vp.Stats()
	log.Infof("attempt: %s, %d/%d speech frames", clip.Duration(), speech, total)
	if !vp.VoiceDetected() {
		return clip, ErrNoSpeech
	}
	return clip, nil
}

// AttemptLimit is how long an attempt at seg may run: the segment length
// scaled by factor plus a fixed margin.
func AttemptLimit(seg *pcm.Clip, factor float64, margin time.Duration) time.Duration {
	return time.Duration(float64(seg.Duration())*factor) + margin
}
