package encoder

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowmaster/pcm"
)

func sine(n int) *pcm.Clip {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/pcm.SampleRate))
	}
	return pcm.New(s, pcm.SampleRate)
}

func decodeFlac(t *testing.T, data []byte) []int16 {
	t.Helper()
	stream, err := flac.New(bytes.NewReader(data))
	require.NoError(t, err)
	var out []int16
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		for _, v := range f.Subframes[0].Samples[:f.Subframes[0].NSamples] {
			out = append(out, int16(v))
		}
	}
	return out
}

func TestFlacRoundTrip(t *testing.T) {
	clip := sine(3*BlockSize + 100)
	enc, err := NewFlac()
	require.NoError(t, err)

	data, err := EncodeClip(enc, clip)
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	assert.Equal(t, "fLaC", string(data[:4]))
	assert.Equal(t, uint64(clip.Len()), enc.TotalFrames())

	assert.Equal(t, clip.Samples, decodeFlac(t, data))
}

func TestFlacEncoderEmpty(t *testing.T) {
	enc, err := NewFlac()
	require.NoError(t, err)
	data, err := EncodeClip(enc, &pcm.Clip{SampleRate: pcm.SampleRate})
	require.NoError(t, err)
	assert.Zero(t, enc.TotalFrames())
	assert.NotEmpty(t, data, "header is always written")
}

func TestWAVEncoder(t *testing.T) {
	clip := sine(1000)
	enc, err := New("wav")
	require.NoError(t, err)
	data, err := EncodeClip(enc, clip)
	require.NoError(t, err)

	got, err := pcm.ReadWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, clip.Samples, got.Samples)
	assert.Equal(t, "audio/wav", enc.ContentType())
}

func TestNewUnknownFormat(t *testing.T) {
	_, err := New("ogg")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestEncodeClipRejectsWrongRate(t *testing.T) {
	enc, err := New("flac")
	require.NoError(t, err)
	_, err = EncodeClip(enc, pcm.New(make([]int16, 10), 44100))
	assert.ErrorIs(t, err, pcm.ErrUnsupportedFormat)
}

func TestMp3Encoder(t *testing.T) {
	clip := sine(pcm.SampleRate + 100)
	enc, err := New("mp3")
	require.NoError(t, err)

	data, err := EncodeClip(enc, clip)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, byte(0xFF), data[0], "frame sync")
	assert.Equal(t, byte(0xE0), data[1]&0xE0, "frame sync")
	assert.Equal(t, uint64(clip.Len()), enc.TotalFrames())
	assert.Equal(t, "audio/mpeg", enc.ContentType())
	assert.Less(t, len(data), clip.Len()*2, "compressed below raw PCM")
}

func TestMp3EncoderBuffersPartialFrames(t *testing.T) {
	enc := NewMp3()
	require.NoError(t, enc.EncodeBlock(make([]int16, mp3FrameSamples-1)))
	assert.Empty(t, enc.Bytes(), "nothing written before a whole frame")
	require.NoError(t, enc.Close())
	assert.NotEmpty(t, enc.Bytes(), "close flushes the padded frame")
}
