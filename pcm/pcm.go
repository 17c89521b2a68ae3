// Package pcm holds the in-memory audio clip type shared by every stage of a
// practice session, plus helpers to move clips in and out of files.
package pcm

import (
	"encoding/binary"
	"time"
)

const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// Clip is a block of mono 16-bit PCM audio. Clips are passed around by
// pointer and compared by identity; consumers must not mutate Samples.
type Clip struct {
	Samples    []int16
	SampleRate int
	// Offset is the clip's start position within its source, if any.
	Offset time.Duration
}

func New(samples []int16, rate int) *Clip {
	return &Clip{Samples: samples, SampleRate: rate}
}

func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(c.Samples)) * time.Second / time.Duration(c.SampleRate)
}

func (c *Clip) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Samples)
}

// Bytes returns the samples as signed 16-bit little-endian bytes.
func (c *Clip) Bytes() []byte {
	if c == nil {
		return nil
	}
	buf := make([]byte, len(c.Samples)*2)
	for i, s := range c.Samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Slice returns a new clip covering [start, end) of c. The sample slice is
// shared with c. Bounds are clamped to the clip.
func (c *Clip) Slice(start, end time.Duration) *Clip {
	from := c.index(start)
	to := c.index(end)
	if to < from {
		to = from
	}
	return &Clip{
		Samples:    c.Samples[from:to],
		SampleRate: c.SampleRate,
		Offset:     c.Offset + start,
	}
}

func (c *Clip) index(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	i := int(int64(d) * int64(c.SampleRate) / int64(time.Second))
	if i > len(c.Samples) {
		i = len(c.Samples)
	}
	return i
}

// FromBytes decodes s16le bytes. A trailing odd byte is ignored.
func FromBytes(data []byte, rate int) *Clip {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return &Clip{Samples: samples, SampleRate: rate}
}

func Silence(d time.Duration, rate int) *Clip {
	n := int(int64(d) * int64(rate) / int64(time.Second))
	return &Clip{Samples: make([]int16, n), SampleRate: rate}
}

// Concat joins clips into a new clip at the sample rate of the first
// non-empty clip. Clips are assumed to share that rate.
func Concat(clips ...*Clip) *Clip {
	rate := SampleRate
	total := 0
	for _, c := range clips {
		if c.Len() == 0 {
			continue
		}
		if total == 0 {
			rate = c.SampleRate
		}
		total += len(c.Samples)
	}
	out := make([]int16, 0, total)
	for _, c := range clips {
		if c.Len() == 0 {
			continue
		}
		out = append(out, c.Samples...)
	}
	return &Clip{Samples: out, SampleRate: rate}
}
