// Package beep generates the cue tones that frame each practice step.
package beep

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"shadowmaster/pcm"
)

type Kind int

const (
	// Playback precedes each playback of the segment.
	Playback Kind = iota
	// YourTurn is a double beep before each recording attempt.
	YourTurn
	// Done marks the end of a segment.
	Done
	// Error is a low double beep played when an attempt could not be scored.
	Error
)

func (k Kind) String() string {
	switch k {
	case Playback:
		return "playback"
	case YourTurn:
		return "your_turn"
	case Done:
		return "done"
	case Error:
		return "error"
	}
	return fmt.Sprintf("beep(%d)", int(k))
}

const (
	DefaultVolume = 0.8

	toneDuration = 150 * time.Millisecond
	doubleGap    = 100 * time.Millisecond
	fadeFraction = 0.10

	playbackFreq = 880
	yourTurnFreq = 1047
	doneFreq     = 660
	errorFreq    = 350
)

var (
	disabled atomic.Bool
	mu       sync.Mutex
	cache    = map[Kind]*pcm.Clip{}
	volume   = DefaultVolume
)

// Disable makes every cue silent and empty, for headless runs.
func Disable() { disabled.Store(true) }

func Enabled() bool { return !disabled.Load() }

// SetVolume changes the volume Cue renders at (0-1).
func SetVolume(v float64) {
	mu.Lock()
	defer mu.Unlock()
	volume = v
	clear(cache)
}

// Cue returns the cue at the current volume. The clip is shared; do not
// modify it.
func Cue(k Kind) *pcm.Clip {
	if disabled.Load() {
		return &pcm.Clip{SampleRate: pcm.SampleRate}
	}
	mu.Lock()
	defer mu.Unlock()
	if c, ok := cache[k]; ok {
		return c
	}
	c := CueAt(k, volume)
	cache[k] = c
	return c
}

// CueAt renders a fresh cue at the given volume (0-1).
func CueAt(k Kind, volume float64) *pcm.Clip {
	switch k {
	case Playback:
		return tone(playbackFreq, toneDuration, volume)
	case YourTurn:
		return double(yourTurnFreq, volume)
	case Done:
		return tone(doneFreq, toneDuration, volume)
	case Error:
		return double(errorFreq, volume)
	}
	return &pcm.Clip{SampleRate: pcm.SampleRate}
}

func double(freq float64, volume float64) *pcm.Clip {
	b := tone(freq, toneDuration, volume)
	return pcm.Concat(b, pcm.Silence(doubleGap, pcm.SampleRate), b)
}

// tone is a sine wave with a linear fade in and out over the first and
// last tenth of its length.
func tone(freq float64, d time.Duration, volume float64) *pcm.Clip {
	n := int(int64(pcm.SampleRate) * int64(d) / int64(time.Second))
	fade := int(float64(n) * fadeFraction)
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / pcm.SampleRate
		v := math.Sin(2 * math.Pi * freq * t)
		switch {
		case fade > 0 && i < fade:
			v *= float64(i) / float64(fade)
		case fade > 0 && i > n-fade:
			v *= float64(n-i) / float64(fade)
		}
		samples[i] = int16(v * volume * 32767)
	}
	return pcm.New(samples, pcm.SampleRate)
}
