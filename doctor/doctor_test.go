package doctor

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowmaster/audio"
	"shadowmaster/hotkey"
	"shadowmaster/pcm"
	"shadowmaster/segmenter"
	"shadowmaster/transcriber"
)

type loud struct{}

func (loud) IsSpeech(frame []byte, _ int) (bool, error) {
	return frame[0] != 0 || frame[1] != 0, nil
}

func spoken() *pcm.Clip {
	samples := make([]int16, pcm.SampleRate*3/10)
	for i := 0; i < pcm.SampleRate; i++ {
		samples = append(samples, 8000)
	}
	samples = append(samples, make([]int16, pcm.SampleRate/2)...)
	return pcm.New(samples, pcm.SampleRate)
}

func newChecks(t *testing.T, clip *pcm.Clip, input string) (*Checks, *audio.FakeContext, *bytes.Buffer) {
	t.Helper()
	preset, err := segmenter.LookupPreset("words")
	require.NoError(t, err)
	actx := audio.NewFakeContextFromClip(clip, false)
	var out bytes.Buffer
	return &Checks{
		Out:        &out,
		In:         strings.NewReader(input),
		Audio:      actx,
		VAD:        loud{},
		Preset:     preset,
		RecordFor:  3 * time.Second,
		HotkeyWait: 200 * time.Millisecond,
	}, actx, &out
}

func TestChecksPass(t *testing.T) {
	c, actx, out := newChecks(t, spoken(), "\ny\nyes\n")
	hk := hotkey.NewFake()
	hk.SimKeydown()
	hk.SimKeyup()
	c.Hotkey = hk
	c.Binding = "ctrl+shift+space"
	c.Transcriber = transcriber.NewFake("hello there", nil)

	assert.Equal(t, 0, c.Run(context.Background()))
	assert.Contains(t, out.String(), "PASS: hotkey detected")
	assert.Contains(t, out.String(), "PASS: 1 speech segment(s)")
	assert.Contains(t, out.String(), "Transcribed text: hello there")
	assert.Contains(t, out.String(), "All checks passed!")
	assert.Len(t, actx.Player.Played(), 1)
	assert.False(t, hk.Registered(), "hotkey released after its check")
}

func TestChecksSkipOptionalParts(t *testing.T) {
	c, _, out := newChecks(t, spoken(), "\ny\n")

	assert.Equal(t, 0, c.Run(context.Background()))
	assert.Contains(t, out.String(), "SKIP: hotkey disabled")
	assert.Contains(t, out.String(), "SKIP: no transcription service configured")
}

func TestChecksFailures(t *testing.T) {
	t.Run("hotkey timeout", func(t *testing.T) {
		c, actx, out := newChecks(t, spoken(), "\ny\n")
		c.Hotkey = hotkey.NewFake()

		assert.Equal(t, 1, c.Run(context.Background()))
		assert.Contains(t, out.String(), "FAIL: timeout waiting for hotkey")
		assert.NotContains(t, out.String(), "[2/3]", "later checks do not run")
		assert.Empty(t, actx.Player.Played())
	})

	t.Run("hotkey unavailable", func(t *testing.T) {
		c, _, out := newChecks(t, spoken(), "")
		hk := hotkey.NewFake()
		hk.RegisterErr = errors.New("no keyboard access")
		c.Hotkey = hk

		assert.Equal(t, 1, c.Run(context.Background()))
		assert.Contains(t, out.String(), "FAIL: could not register hotkey: no keyboard access")
	})

	t.Run("silent microphone", func(t *testing.T) {
		c, _, out := newChecks(t, pcm.Silence(time.Second, pcm.SampleRate), "\n")
		c.RecordFor = 300 * time.Millisecond

		assert.Equal(t, 1, c.Run(context.Background()))
		assert.Contains(t, out.String(), "FAIL: microphone delivered only silence")
	})

	t.Run("playback not heard", func(t *testing.T) {
		c, _, out := newChecks(t, spoken(), "\nn\n")

		assert.Equal(t, 1, c.Run(context.Background()))
		assert.Contains(t, out.String(), "FAIL: playback not confirmed")
	})

	t.Run("transcription error", func(t *testing.T) {
		c, _, out := newChecks(t, spoken(), "\ny\n")
		c.Transcriber = transcriber.NewFake("", errors.New("quota exceeded"))

		assert.Equal(t, 1, c.Run(context.Background()))
		assert.Contains(t, out.String(), "FAIL: transcription error")
		assert.Contains(t, out.String(), "quota exceeded")
	})
}

func TestPeakDBFS(t *testing.T) {
	assert.True(t, math.IsInf(peakDBFS(pcm.Silence(10*time.Millisecond, pcm.SampleRate)), -1))
	assert.InDelta(t, -6.02, peakDBFS(pcm.New([]int16{0, -16384, 100}, pcm.SampleRate)), 0.01)
}
