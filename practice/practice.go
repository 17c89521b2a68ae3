// Package practice renders offline practice tracks: every segment played
// with cues and followed by silent gaps sized for the learner's attempts.
package practice

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"shadowmaster/beep"
	"shadowmaster/encoder"
	"shadowmaster/pcm"
	"shadowmaster/segmenter"
	"shadowmaster/tempo"
)

const (
	pauseAfterBeep    = 300 * time.Millisecond
	pauseAfterSegment = 300 * time.Millisecond
	pauseAfterDone    = 500 * time.Millisecond
)

// Formats are the track formats Export writes.
var Formats = []string{"mp3", "wav", "flac"}

func ValidFormat(format string) bool { return slices.Contains(Formats, format) }

// ErrNoSpeech is returned by Render when the source has no segments.
var ErrNoSpeech = errors.New("no speech found")

type Options struct {
	PlaybackRepeats int
	UserRepeats     int
	BeepVolume      float64
	// Speed is applied to the source before it is split; 1 leaves it as is.
	Speed float64
}

func DefaultOptions() Options {
	return Options{PlaybackRepeats: 2, UserRepeats: 1, BeepVolume: beep.DefaultVolume, Speed: 1}
}

// Render changes the speed of src, splits it into segments and lays them
// out with Build.
func Render(src *pcm.Clip, preset segmenter.Preset, vad segmenter.Classifier, opts Options) (*pcm.Clip, []*pcm.Clip, error) {
	if opts.Speed == 0 {
		opts.Speed = 1
	}
	clip, err := tempo.Stretch(src, opts.Speed)
	if err != nil {
		return nil, nil, err
	}
	segs := segmenter.Split(clip, preset, vad)
	if len(segs) == 0 {
		return nil, nil, ErrNoSpeech
	}
	return Build(segs, opts), segs, nil
}

// Build lays out each segment as
//
//	(playback cue, pause, segment, pause) x PlaybackRepeats
//	(your-turn cue, pause, silence as long as the segment, pause) x UserRepeats
//	done cue, longer pause
//
// Segments are expected at pcm.SampleRate.
func Build(segments []*pcm.Clip, opts Options) *pcm.Clip {
	if opts.PlaybackRepeats < 1 {
		opts.PlaybackRepeats = 1
	}
	if opts.UserRepeats < 0 {
		opts.UserRepeats = 0
	}
	playCue := beep.CueAt(beep.Playback, opts.BeepVolume)
	turnCue := beep.CueAt(beep.YourTurn, opts.BeepVolume)
	doneCue := beep.CueAt(beep.Done, opts.BeepVolume)
	afterBeep := pcm.Silence(pauseAfterBeep, pcm.SampleRate)
	afterSeg := pcm.Silence(pauseAfterSegment, pcm.SampleRate)
	afterDone := pcm.Silence(pauseAfterDone, pcm.SampleRate)

	var parts []*pcm.Clip
	for _, seg := range segments {
		for i := 0; i < opts.PlaybackRepeats; i++ {
			parts = append(parts, playCue, afterBeep, seg, afterSeg)
		}
		gap := pcm.Silence(seg.Duration(), pcm.SampleRate)
		for i := 0; i < opts.UserRepeats; i++ {
			parts = append(parts, turnCue, afterBeep, gap, afterSeg)
		}
		parts = append(parts, doneCue, afterDone)
	}
	out := pcm.Concat(parts...)
	out.SampleRate = pcm.SampleRate
	return out
}

// TrackDuration predicts len(Build(segments, opts)) without rendering.
func TrackDuration(segments []*pcm.Clip, opts Options) time.Duration {
	var total time.Duration
	cue := func(k beep.Kind) time.Duration { return beep.CueAt(k, 0).Duration() }
	for _, seg := range segments {
		d := seg.Duration()
		total += time.Duration(max(opts.PlaybackRepeats, 1)) * (cue(beep.Playback) + pauseAfterBeep + d + pauseAfterSegment)
		total += time.Duration(max(opts.UserRepeats, 0)) * (cue(beep.YourTurn) + pauseAfterBeep + d + pauseAfterSegment)
		total += cue(beep.Done) + pauseAfterDone
	}
	return total
}

// Export encodes track as format (one of Formats) into w.
func Export(w io.Writer, track *pcm.Clip, format string) error {
	enc, err := encoder.New(format)
	if err != nil {
		return err
	}
	data, err := encoder.EncodeClip(enc, track)
	if err != nil {
		return fmt.Errorf("exporting %s: %w", format, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", format, err)
	}
	return nil
}

// WriteFile exports track to path, creating its directory. A failed write
// leaves no file behind.
func WriteFile(path string, track *pcm.Clip, format string) (err error) {
	if !ValidFormat(format) {
		return fmt.Errorf("unknown format %q", format)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()
	if err := Export(out, track, format); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
