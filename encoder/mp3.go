package encoder

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/braheezy/shine-mp3/pkg/mp3"

	"shadowmaster/pcm"
)

// mp3FrameSamples is one MPEG-2 granule at 16 kHz.
const mp3FrameSamples = 576

// Mp3Encoder writes 16 kHz mono MP3. Blocks are buffered up to whole
// frames; Close pads the last frame with silence.
type Mp3Encoder struct {
	buf         bytes.Buffer
	pending     []int16
	enc         *mp3.Encoder
	totalFrames uint64
	encodeTime  time.Duration
	mu          sync.Mutex
}

func NewMp3() *Mp3Encoder {
	return &Mp3Encoder{enc: mp3.NewEncoder(pcm.SampleRate, pcm.Channels)}
}

func (e *Mp3Encoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.totalFrames += uint64(len(block))
	e.pending = append(e.pending, block...)

	complete := (len(e.pending) / mp3FrameSamples) * mp3FrameSamples
	if complete > 0 {
		if err := e.enc.Write(&e.buf, e.pending[:complete]); err != nil {
			return fmt.Errorf("writing mp3 frames: %w", err)
		}
		e.pending = append(e.pending[:0], e.pending[complete:]...)
	}
	e.encodeTime += time.Since(start)
	return nil
}

func (e *Mp3Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		return nil
	}
	start := time.Now()
	for len(e.pending) < mp3FrameSamples {
		e.pending = append(e.pending, 0)
	}
	err := e.enc.Write(&e.buf, e.pending)
	e.pending = nil
	e.encodeTime += time.Since(start)
	if err != nil {
		return fmt.Errorf("writing mp3 frames: %w", err)
	}
	return nil
}

func (e *Mp3Encoder) Bytes() []byte       { return e.buf.Bytes() }
func (e *Mp3Encoder) TotalFrames() uint64 { return e.totalFrames }
func (e *Mp3Encoder) Format() string      { return "mp3" }
func (e *Mp3Encoder) ContentType() string { return "audio/mpeg" }

func (e *Mp3Encoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
