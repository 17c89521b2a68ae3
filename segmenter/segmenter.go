// Package segmenter cuts speech audio into practice segments using
// voice-activity detection.
package segmenter

import (
	"fmt"
	"sort"
	"sync"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"shadowmaster/pcm"
)

const (
	FrameMs     = 30
	DefaultMode = 2
)

// Preset bounds segment length and sets how much silence ends a segment.
type Preset struct {
	Name      string
	MinMs     int
	MaxMs     int
	SilenceMs int
	PreBuffer int // ms of audio kept before speech onset
}

var presets = map[string]Preset{
	"sentences": {Name: "sentences", MinMs: 500, MaxMs: 8000, SilenceMs: 700, PreBuffer: 200},
	"short":     {Name: "short", MinMs: 500, MaxMs: 3000, SilenceMs: 500, PreBuffer: 200},
	"long":      {Name: "long", MinMs: 1000, MaxMs: 12000, SilenceMs: 1000, PreBuffer: 300},
	"words":     {Name: "words", MinMs: 300, MaxMs: 2000, SilenceMs: 400, PreBuffer: 150},
}

const DefaultPreset = "sentences"

func LookupPreset(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q (have %v)", name, PresetNames())
	}
	return p, nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Classifier decides whether one frame of s16le audio contains speech.
type Classifier interface {
	IsSpeech(frame []byte, rate int) (bool, error)
}

// WebRTC is safe for concurrent use, but its smoothing state is shared:
// give each audio stream its own classifier.
type WebRTC struct {
	mu  sync.Mutex
	vad *webrtcvad.VAD
}

// NewWebRTC returns a classifier backed by the WebRTC VAD at the given
// aggressiveness (0-3).
func NewWebRTC(mode int) (*WebRTC, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(mode); err != nil {
		return nil, fmt.Errorf("vad mode %d: %w", mode, err)
	}
	return &WebRTC{vad: v}, nil
}

func (w *WebRTC) IsSpeech(frame []byte, rate int) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.vad.Process(rate, frame)
}

// Detector is a streaming segmenter. Feed it audio as it arrives; it
// returns each segment as soon as the silence that ends it has been seen.
//
// A segment ends once silence has lasted SilenceMs; its end is the first
// silent frame, and it is dropped if shorter than MinMs. Segments reaching
// MaxMs are split there even while speech continues. Each segment starts
// PreBuffer before the detected onset, but never before the previous
// segment's end.
type Detector struct {
	preset     Preset
	vad        Classifier
	rate       int
	frameLen   int
	silenceFrs int
	preFrs     int
	minFrs     int
	maxFrs     int

	pending  []int16
	buf      []int16 // audio from frame bufStart onward
	bufStart int
	frame    int // frames classified so far

	inSpeech bool
	start    int
	silence  int
	lastEnd  int
}

func NewDetector(p Preset, vad Classifier, rate int) *Detector {
	frameLen := rate * FrameMs / 1000
	return &Detector{
		preset:     p,
		vad:        vad,
		rate:       rate,
		frameLen:   frameLen,
		silenceFrs: p.SilenceMs / FrameMs,
		preFrs:     p.PreBuffer / FrameMs,
		minFrs:     ceilDiv(p.MinMs, FrameMs),
		maxFrs:     p.MaxMs / FrameMs,
	}
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// Feed consumes samples and returns the segments they completed. Returned
// clips own their samples.
func (d *Detector) Feed(samples []int16) []*pcm.Clip {
	var out []*pcm.Clip
	d.feed(samples, func(start, end int) {
		out = append(out, d.copyClip(start, end))
	})
	return out
}

// Flush ends the stream. The trailing segment is returned if it reached
// MinMs; a partial frame is discarded.
func (d *Detector) Flush() *pcm.Clip {
	var out *pcm.Clip
	d.flush(func(start, end int) { out = d.copyClip(start, end) })
	d.Reset()
	return out
}

// Reset discards all buffered audio and speech state.
func (d *Detector) Reset() {
	d.pending = d.pending[:0]
	d.buf = d.buf[:0]
	d.bufStart = 0
	d.frame = 0
	d.inSpeech = false
	d.start, d.silence, d.lastEnd = 0, 0, 0
}

func (d *Detector) feed(samples []int16, emit func(start, end int)) {
	d.pending = append(d.pending, samples...)
	frameBytes := make([]byte, d.frameLen*2)
	for len(d.pending) >= d.frameLen {
		fr := d.pending[:d.frameLen]
		d.buf = append(d.buf, fr...)
		for i, s := range fr {
			frameBytes[2*i] = byte(s)
			frameBytes[2*i+1] = byte(uint16(s) >> 8)
		}
		d.pending = d.pending[d.frameLen:]

		speech, err := d.vad.IsSpeech(frameBytes, d.rate)
		if err != nil {
			speech = false
		}
		d.step(speech, emit)
		d.frame++
		d.trim()
	}
}

func (d *Detector) step(speech bool, emit func(start, end int)) {
	i := d.frame
	if speech {
		if !d.inSpeech {
			d.start = max(0, i-d.preFrs, d.lastEnd)
			d.inSpeech = true
		}
		d.silence = 0
		if i+1-d.start >= d.maxFrs {
			d.close(d.start, i+1, emit)
		}
		return
	}
	if !d.inSpeech {
		return
	}
	d.silence++
	switch {
	case d.silence >= d.silenceFrs:
		end := i - d.silence + 1
		if end-d.start >= d.minFrs {
			d.close(d.start, end, emit)
			return
		}
		// too short to practise
		d.inSpeech = false
		d.silence = 0
	case i-d.start >= d.maxFrs:
		d.close(d.start, i, emit)
	}
}

func (d *Detector) close(start, end int, emit func(start, end int)) {
	emit(start, end)
	d.inSpeech = false
	d.silence = 0
	d.lastEnd = end
}

func (d *Detector) flush(emit func(start, end int)) {
	if d.inSpeech && d.frame-d.start >= d.minFrs {
		d.close(d.start, d.frame, emit)
	}
	d.inSpeech = false
}

// trim drops buffered frames that can no longer be part of a segment.
func (d *Detector) trim() {
	keep := d.frame - d.preFrs
	if d.inSpeech {
		keep = d.start
	}
	if keep <= d.bufStart {
		return
	}
	drop := (keep - d.bufStart) * d.frameLen
	if drop > len(d.buf) {
		drop = len(d.buf)
	}
	d.buf = append(d.buf[:0], d.buf[drop:]...)
	d.bufStart = keep
}

func (d *Detector) copyClip(start, end int) *pcm.Clip {
	from := (start - d.bufStart) * d.frameLen
	to := (end - d.bufStart) * d.frameLen
	samples := make([]int16, to-from)
	copy(samples, d.buf[from:to])
	return &pcm.Clip{
		Samples:    samples,
		SampleRate: d.rate,
		Offset:     d.frameTime(start),
	}
}

func (d *Detector) frameTime(f int) time.Duration {
	return time.Duration(f*FrameMs) * time.Millisecond
}

// Split segments a whole clip offline. The returned clips share samples
// with c and carry their position in c as Offset.
func Split(c *pcm.Clip, p Preset, vad Classifier) []*pcm.Clip {
	d := NewDetector(p, vad, c.SampleRate)
	var out []*pcm.Clip
	emit := func(start, end int) {
		out = append(out, c.Slice(d.frameTime(start), d.frameTime(end)))
	}
	d.feed(c.Samples, emit)
	d.flush(emit)
	return out
}
