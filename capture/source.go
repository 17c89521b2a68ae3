// Package capture supplies the audio that drives a practice session: the
// segments to imitate and the learner's recorded attempts.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"shadowmaster/audio"
	"shadowmaster/pcm"
	"shadowmaster/segmenter"
	"shadowmaster/tempo"
)

// ErrSourceExhausted is returned by Next when a finite source has no more
// segments.
var ErrSourceExhausted = errors.New("no more segments")

type Source interface {
	// Next blocks until the next segment is available.
	Next(ctx context.Context) (*pcm.Clip, error)
}

// FileSource serves pre-split segments in order.
type FileSource struct {
	mu   sync.Mutex
	segs []*pcm.Clip
	pos  int
}

func NewFileSource(segs []*pcm.Clip) *FileSource {
	return &FileSource{segs: segs}
}

// LoadFileSource decodes path, plays it at speed and splits it with the
// given preset.
func LoadFileSource(path string, speed float64, preset segmenter.Preset, vad segmenter.Classifier) (*FileSource, error) {
	clip, err := pcm.Decode(path)
	if err != nil {
		return nil, err
	}
	if clip, err = tempo.Stretch(clip, speed); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	segs := segmenter.Split(clip, preset, vad)
	if len(segs) == 0 {
		return nil, fmt.Errorf("%s: no speech found with preset %q", path, preset.Name)
	}
	return NewFileSource(segs), nil
}

func (s *FileSource) Next(ctx context.Context) (*pcm.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.segs) {
		return nil, ErrSourceExhausted
	}
	seg := s.segs[s.pos]
	s.pos++
	return seg, nil
}

func (s *FileSource) Segments() []*pcm.Clip { return s.segs }

// MicSource listens on a capture device and returns each segment as soon
// as the detector closes it. The device only runs while Next is waiting,
// so cue and segment playback are never picked up.
type MicSource struct {
	dev audio.CaptureDevice

	mu  sync.Mutex
	det *segmenter.Detector
}

func NewMicSource(dev audio.CaptureDevice, preset segmenter.Preset, vad segmenter.Classifier) *MicSource {
	return &MicSource{
		dev: dev,
		det: segmenter.NewDetector(preset, vad, pcm.SampleRate),
	}
}

func (s *MicSource) Next(ctx context.Context) (*pcm.Clip, error) {
	s.mu.Lock()
	s.det.Reset()
	s.mu.Unlock()

	segs := make(chan *pcm.Clip, 1)
	s.dev.SetCallback(func(data []byte, _ uint32) {
		s.mu.Lock()
		done := s.det.Feed(pcm.FromBytes(data, pcm.SampleRate).Samples)
		s.mu.Unlock()
		for _, c := range done {
			select {
			case segs <- c:
			default:
			}
		}
	})
	if err := s.dev.Start(); err != nil {
		s.dev.ClearCallback()
		return nil, fmt.Errorf("starting capture on %s: %w", s.dev.DeviceName(), err)
	}
	defer func() {
		s.dev.Stop()
		s.dev.ClearCallback()
	}()

	select {
	case c := <-segs:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
