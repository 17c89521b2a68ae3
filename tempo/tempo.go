// Package tempo changes the speed of speech without changing its pitch,
// so a lesson can be slowed down before it is split into segments.
package tempo

import (
	"errors"
	"fmt"
	"math"
	"time"

	"shadowmaster/pcm"
)

const (
	MinSpeed = 0.25
	MaxSpeed = 4.0

	frameMs     = 40
	toleranceMs = 10
)

var ErrSpeed = errors.New("speed out of range")

// Validate reports whether speed can be applied.
func Validate(speed float64) error {
	if math.IsNaN(speed) || speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: %g (want %g to %g)", ErrSpeed, speed, MinSpeed, MaxSpeed)
	}
	return nil
}

// Stretch returns c played at speed (0.8 is 20% slower) using waveform
// similarity overlap-add: fixed-hop Hann-windowed output frames, each read
// from near its nominal input position where it best continues the
// previous frame. A speed of 1 returns c itself.
func Stretch(c *pcm.Clip, speed float64) (*pcm.Clip, error) {
	if err := Validate(speed); err != nil {
		return nil, err
	}
	if speed == 1 || c.Len() == 0 {
		return c, nil
	}

	rate := c.SampleRate
	n := max(rate*frameMs/1000, 16)
	hop := n / 2
	tol := rate * toleranceMs / 1000
	in := c.Samples
	outLen := int(math.Round(float64(len(in)) / speed))

	win := hann(n)
	acc := make([]float64, outLen+n)
	norm := make([]float64, outLen+n)

	prev := 0
	for k := 0; k*hop < outLen; k++ {
		pos := int(float64(k*hop) * speed)
		if k > 0 {
			pos = bestMatch(in, prev+hop, pos, tol, n-hop)
		}
		out := k * hop
		for i := 0; i < n; i++ {
			w := win[i]
			acc[out+i] += w * sample(in, pos+i)
			norm[out+i] += w
		}
		prev = pos
	}

	samples := make([]int16, outLen)
	for i := range samples {
		v := acc[i]
		if norm[i] > 1e-3 {
			v /= norm[i]
		}
		samples[i] = clamp(v)
	}
	return &pcm.Clip{
		Samples:    samples,
		SampleRate: rate,
		Offset:     time.Duration(float64(c.Offset) / speed),
	}, nil
}

// bestMatch searches [nominal-tol, nominal+tol] for the start whose first
// overlap samples correlate best with in[natural:].
func bestMatch(in []int16, natural, nominal, tol, overlap int) int {
	score := func(p int) float64 {
		var s float64
		for i := 0; i < overlap; i++ {
			s += sample(in, natural+i) * sample(in, p+i)
		}
		return s
	}
	// Ties, as in silence, keep the nominal position.
	best, bestScore := nominal, score(nominal)
	for p := max(nominal-tol, 0); p <= nominal+tol; p++ {
		if s := score(p); s > bestScore {
			best, bestScore = p, s
		}
	}
	return best
}

func sample(in []int16, i int) float64 {
	if i < 0 || i >= len(in) {
		return 0
	}
	return float64(in[i])
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

func clamp(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}
