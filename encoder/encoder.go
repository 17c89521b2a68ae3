// Package encoder compresses clips for upload to transcription services and
// for exported practice tracks.
package encoder

import (
	"fmt"
	"time"

	"shadowmaster/pcm"
)

const BlockSize = 4096

type Encoder interface {
	EncodeBlock(block []int16) error
	Close() error
	Bytes() []byte
	TotalFrames() uint64
	// Format is the file extension without the dot.
	Format() string
	ContentType() string
	EncodeTime() time.Duration
}

var ErrUnknownFormat = fmt.Errorf("unknown encoding format")

func New(format string) (Encoder, error) {
	switch format {
	case "flac":
		return NewFlac()
	case "wav":
		return NewWAV(pcm.SampleRate), nil
	case "mp3":
		return NewMp3(), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
}

// EncodeClip runs the whole clip through enc in BlockSize blocks and closes
// it. The clip must be at pcm.SampleRate.
func EncodeClip(enc Encoder, clip *pcm.Clip) ([]byte, error) {
	if clip.Len() > 0 && clip.SampleRate != pcm.SampleRate {
		return nil, fmt.Errorf("encode: clip at %d Hz, want %d: %w", clip.SampleRate, pcm.SampleRate, pcm.ErrUnsupportedFormat)
	}
	for i := 0; i < clip.Len(); i += BlockSize {
		end := min(i+BlockSize, clip.Len())
		if err := enc.EncodeBlock(clip.Samples[i:end]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing %s encoder: %w", enc.Format(), err)
	}
	return enc.Bytes(), nil
}
