package pcm

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i)
	}
	return s
}

func TestClipDuration(t *testing.T) {
	c := New(make([]int16, SampleRate/2), SampleRate)
	assert.Equal(t, 500*time.Millisecond, c.Duration())

	var nilClip *Clip
	assert.Zero(t, nilClip.Duration())
	assert.Zero(t, nilClip.Len())
}

func TestClipSlice(t *testing.T) {
	c := New(ramp(SampleRate), SampleRate)
	c.Offset = time.Second

	s := c.Slice(250*time.Millisecond, 500*time.Millisecond)
	require.Equal(t, SampleRate/4, s.Len())
	assert.Equal(t, int16(SampleRate/4), s.Samples[0])
	assert.Equal(t, 1250*time.Millisecond, s.Offset)

	clamped := c.Slice(900*time.Millisecond, 5*time.Second)
	assert.Equal(t, SampleRate/10, clamped.Len())

	empty := c.Slice(700*time.Millisecond, 100*time.Millisecond)
	assert.Zero(t, empty.Len())
}

func TestBytesRoundTrip(t *testing.T) {
	c := New([]int16{0, 1, -1, 32767, -32768}, SampleRate)
	got := FromBytes(c.Bytes(), SampleRate)
	assert.Equal(t, c.Samples, got.Samples)

	odd := FromBytes([]byte{1, 0, 9}, SampleRate)
	assert.Equal(t, []int16{1}, odd.Samples)
}

func TestSilenceAndConcat(t *testing.T) {
	a := New([]int16{1, 2}, SampleRate)
	gap := Silence(time.Millisecond, SampleRate)
	require.Equal(t, 16, gap.Len())

	joined := Concat(a, nil, gap, New([]int16{3}, SampleRate))
	assert.Equal(t, 19, joined.Len())
	assert.Equal(t, int16(3), joined.Samples[18])
	assert.Equal(t, SampleRate, joined.SampleRate)
}

func TestWAVRoundTrip(t *testing.T) {
	c := New(ramp(1000), 22050)
	var buf bytes.Buffer
	require.NoError(t, WriteWAV(&buf, c))
	assert.Equal(t, WAVHeaderSize+2000, buf.Len())

	got, err := ReadWAV(&buf)
	require.NoError(t, err)
	assert.Equal(t, 22050, got.SampleRate)
	assert.Equal(t, c.Samples, got.Samples)
}

func TestReadWAVRejectsGarbage(t *testing.T) {
	_, err := ReadWAV(bytes.NewReader([]byte("RIFF\x00\x00\x00\x00AVI LIST")))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestDecodeWAVResamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteWAV(f, New(make([]int16, 32000), 32000)))
	require.NoError(t, f.Close())

	got, err := Decode(path)
	require.NoError(t, err)
	assert.Equal(t, SampleRate, got.SampleRate)
	assert.Equal(t, time.Second, got.Duration())
}

func TestDecodeUnknownExtension(t *testing.T) {
	_, err := Decode("notes.ogg")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestDownmix(t *testing.T) {
	assert.Equal(t, []int16{15, -5}, downmix([]int16{10, 20, -10, 0}, 2))
}
