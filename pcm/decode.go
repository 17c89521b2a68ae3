package pcm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"
)

// Decode loads an audio file and returns it as 16 kHz mono.
func Decode(path string) (*Clip, error) {
	var (
		clip *Clip
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		clip, err = decodeWAVFile(path)
	case ".mp3":
		clip, err = decodeMP3(path)
	case ".flac":
		clip, err = decodeFLAC(path)
	default:
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	return ToMono16k(clip), nil
}

func decodeWAVFile(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadWAV(f)
}

func decodeMP3(path string) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	// go-mp3 always yields interleaved stereo s16le.
	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	stereo := FromBytes(data, dec.SampleRate()).Samples
	return &Clip{Samples: downmix(stereo, 2), SampleRate: dec.SampleRate()}, nil
}

func decodeFLAC(path string) (*Clip, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	shift := int(stream.Info.BitsPerSample) - BitsPerSample
	var samples []int16
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		n := frame.Subframes[0].NSamples
		for i := 0; i < n; i++ {
			var sum int64
			for ch := 0; ch < channels; ch++ {
				sum += int64(frame.Subframes[ch].Samples[i])
			}
			v := sum / int64(channels)
			if shift > 0 {
				v >>= shift
			} else if shift < 0 {
				v <<= -shift
			}
			samples = append(samples, int16(v))
		}
	}
	return &Clip{Samples: samples, SampleRate: int(stream.Info.SampleRate)}, nil
}

// ToMono16k resamples c to SampleRate with linear interpolation. Clips that
// are already at SampleRate are returned unchanged.
func ToMono16k(c *Clip) *Clip {
	if c.SampleRate == SampleRate || c.SampleRate <= 0 || c.Len() == 0 {
		if c.SampleRate <= 0 {
			c.SampleRate = SampleRate
		}
		return c
	}
	ratio := float64(c.SampleRate) / float64(SampleRate)
	n := int(float64(len(c.Samples)) / ratio)
	out := make([]int16, n)
	last := len(c.Samples) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = c.Samples[last]
			continue
		}
		frac := pos - float64(j)
		a, b := float64(c.Samples[j]), float64(c.Samples[j+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return &Clip{Samples: out, SampleRate: SampleRate, Offset: c.Offset}
}
