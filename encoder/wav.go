package encoder

import (
	"bytes"
	"sync"
	"time"

	"shadowmaster/pcm"
)

// WAVEncoder buffers samples and writes a canonical WAV file on Close.
type WAVEncoder struct {
	rate       int
	samples    []int16
	out        bytes.Buffer
	encodeTime time.Duration
	mu         sync.Mutex
}

func NewWAV(rate int) *WAVEncoder {
	return &WAVEncoder{rate: rate}
}

func (e *WAVEncoder) EncodeBlock(block []int16) error {
	e.mu.Lock()
	e.samples = append(e.samples, block...)
	e.mu.Unlock()
	return nil
}

func (e *WAVEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	e.out.Reset()
	err := pcm.WriteWAV(&e.out, pcm.New(e.samples, e.rate))
	e.encodeTime += time.Since(start)
	return err
}

func (e *WAVEncoder) Bytes() []byte       { return e.out.Bytes() }
func (e *WAVEncoder) TotalFrames() uint64 { return uint64(len(e.samples)) }
func (e *WAVEncoder) Format() string      { return "wav" }
func (e *WAVEncoder) ContentType() string { return "audio/wav" }

func (e *WAVEncoder) EncodeTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.encodeTime
}
