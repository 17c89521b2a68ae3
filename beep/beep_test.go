package beep

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func peak(samples []int16) int16 {
	var p int16
	for _, s := range samples {
		if s > p {
			p = s
		}
	}
	return p
}

func TestCueDurations(t *testing.T) {
	assert.Equal(t, 150*time.Millisecond, CueAt(Playback, DefaultVolume).Duration())
	assert.Equal(t, 150*time.Millisecond, CueAt(Done, DefaultVolume).Duration())
	assert.Equal(t, 400*time.Millisecond, CueAt(YourTurn, DefaultVolume).Duration())
	assert.Equal(t, 400*time.Millisecond, CueAt(Error, DefaultVolume).Duration())
}

func TestToneEnvelope(t *testing.T) {
	c := CueAt(Playback, 1)
	assert.Equal(t, int16(0), c.Samples[0])
	// Fade covers the first 240 samples; the middle reaches near full scale.
	assert.Less(t, peak(c.Samples[:24]), int16(4000))
	assert.Greater(t, peak(c.Samples[1000:1400]), int16(31000))

	quiet := CueAt(Playback, 0.25)
	assert.Less(t, peak(quiet.Samples), int16(8200))
}

func TestDoubleBeepGap(t *testing.T) {
	c := CueAt(YourTurn, DefaultVolume)
	gap := c.Samples[2400:4000]
	assert.Equal(t, int16(0), peak(gap))
}

func TestCueCachedUntilDisabled(t *testing.T) {
	a := Cue(Done)
	assert.Same(t, a, Cue(Done))
	assert.True(t, Enabled())

	Disable()
	t.Cleanup(func() { disabled.Store(false) })
	assert.Zero(t, Cue(Done).Len())
	assert.False(t, Enabled())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "your_turn", YourTurn.String())
	assert.Equal(t, "beep(9)", Kind(9).String())
}

func TestSetVolume(t *testing.T) {
	loud := Cue(Playback)
	SetVolume(0.25)
	t.Cleanup(func() { SetVolume(DefaultVolume) })

	quiet := Cue(Playback)
	assert.NotSame(t, loud, quiet)
	assert.Less(t, peak(quiet.Samples), peak(loud.Samples))
}
