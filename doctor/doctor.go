// Package doctor runs interactive checks of the pieces a live session
// depends on: the global hotkey, the microphone and voice detection, and
// playback with transcription.
package doctor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"shadowmaster/audio"
	"shadowmaster/capture"
	"shadowmaster/hotkey"
	"shadowmaster/pcm"
	"shadowmaster/segmenter"
	"shadowmaster/shutdown"
	"shadowmaster/transcriber"
)

// Checks holds what the checks run against. A nil Hotkey or Transcriber
// skips that part.
type Checks struct {
	Out io.Writer
	In  io.Reader

	Hotkey  hotkey.Hotkey
	Binding string

	Audio       audio.Context
	Device      *audio.DeviceInfo
	VAD         segmenter.Classifier
	Preset      segmenter.Preset
	Transcriber transcriber.Transcriber

	RecordFor  time.Duration
	HotkeyWait time.Duration

	reader    *bufio.Reader
	recording *pcm.Clip
}

// Run executes the checks against the terminal and returns an exit code
// (0=all pass, 1=any fail).
func Run(c *Checks) int {
	resetTerminal()
	// Prompts block on stdin, so an interrupt ends the process outright.
	ctx, cancel := shutdown.Context(context.Background(), func(os.Signal) {
		fmt.Println("\nInterrupted")
		resetTerminal()
		os.Exit(1)
	})
	defer cancel()
	return c.Run(ctx)
}

// Run executes the checks in order, stopping at the first failure.
func (c *Checks) Run(ctx context.Context) int {
	if c.Out == nil {
		c.Out = os.Stdout
	}
	if c.In == nil {
		c.In = os.Stdin
	}
	if c.RecordFor == 0 {
		c.RecordFor = 4 * time.Second
	}
	if c.HotkeyWait == 0 {
		c.HotkeyWait = 10 * time.Second
	}
	c.reader = bufio.NewReader(c.In)

	fmt.Fprintln(c.Out, "shadowmaster doctor - interactive system diagnostics")
	fmt.Fprintln(c.Out, "====================================================")

	allPass := c.checkHotkey() && c.checkMicrophone(ctx) && c.checkPlayback(ctx)

	fmt.Fprintln(c.Out)
	if allPass {
		fmt.Fprintln(c.Out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(c.Out, "Some checks failed. See details above.")
	return 1
}

func (c *Checks) checkHotkey() bool {
	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, "[1/3] Hotkey detection")
	if c.Hotkey == nil {
		fmt.Fprintln(c.Out, "  SKIP: hotkey disabled")
		return true
	}
	fmt.Fprintf(c.Out, "Press %s...\n", c.Binding)

	if err := c.Hotkey.Register(); err != nil {
		fmt.Fprintf(c.Out, "  FAIL: could not register hotkey: %v\n", err)
		return false
	}
	defer c.Hotkey.Unregister()

	select {
	case <-c.Hotkey.Keydown():
		fmt.Fprintln(c.Out, "  PASS: hotkey detected")
		// Wait for keyup to avoid triggering next step
		select {
		case <-c.Hotkey.Keyup():
		case <-time.After(5 * time.Second):
		}
		// The evdev backend can leave the terminal in raw mode
		resetTerminal()
		return true
	case <-time.After(c.HotkeyWait):
		fmt.Fprintln(c.Out, "  FAIL: timeout waiting for hotkey")
		return false
	}
}

func (c *Checks) checkMicrophone(ctx context.Context) bool {
	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, "[2/3] Microphone and voice detection")

	dev, err := c.Audio.NewCapture(c.Device, audio.DefaultCaptureConfig())
	if err != nil {
		fmt.Fprintf(c.Out, "  FAIL: cannot open microphone: %v\n", err)
		return false
	}
	defer dev.Close()
	fmt.Fprintf(c.Out, "Using device: %s\n", deviceName(c.Device))

	fmt.Fprintf(c.Out, "Press Enter and read a sentence aloud (up to %.0f seconds)...", c.RecordFor.Seconds())
	c.reader.ReadString('\n')

	fmt.Fprint(c.Out, "  Recording...")
	clip, err := capture.NewMicRecorder(dev, c.VAD).Record(ctx, c.RecordFor)
	if err != nil && !errors.Is(err, capture.ErrNoSpeech) {
		fmt.Fprintf(c.Out, "\n  FAIL: recording error: %v\n", err)
		return false
	}
	fmt.Fprintf(c.Out, " %.1fs\n", clip.Duration().Seconds())

	if clip.Len() == 0 {
		fmt.Fprintln(c.Out, "  FAIL: no audio captured")
		return false
	}
	level := peakDBFS(clip)
	fmt.Fprintf(c.Out, "  Peak level: %.1f dBFS\n", level)
	if math.IsInf(level, -1) {
		fmt.Fprintln(c.Out, "  FAIL: microphone delivered only silence")
		return false
	}

	segs := segmenter.Split(clip, c.Preset, c.VAD)
	if len(segs) == 0 {
		fmt.Fprintln(c.Out, "  FAIL: no speech detected (check the input level)")
		return false
	}
	fmt.Fprintf(c.Out, "  PASS: %d speech segment(s) with the %q preset\n", len(segs), c.Preset.Name)
	c.recording = clip
	return true
}

func (c *Checks) checkPlayback(ctx context.Context) bool {
	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, "[3/3] Playback and transcription")

	player, err := c.Audio.NewPlayer()
	if err != nil {
		fmt.Fprintf(c.Out, "  FAIL: cannot open playback: %v\n", err)
		return false
	}
	fmt.Fprintln(c.Out, "  Playing your recording back...")
	if err := player.Play(ctx, c.recording); err != nil {
		fmt.Fprintf(c.Out, "  FAIL: playback error: %v\n", err)
		return false
	}
	if !c.confirm("Did you hear your recording?") {
		fmt.Fprintln(c.Out, "  FAIL: playback not confirmed")
		return false
	}
	fmt.Fprintln(c.Out, "  PASS: playback verified by user")

	if c.Transcriber == nil {
		fmt.Fprintln(c.Out, "  SKIP: no transcription service configured")
		return true
	}
	fmt.Fprintf(c.Out, "  Transcribing with %s...\n", c.Transcriber.Name())
	res, err := c.Transcriber.Transcribe(ctx, c.recording)
	if err != nil {
		fmt.Fprintf(c.Out, "  FAIL: transcription error: %v\n", err)
		return false
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Fprintf(c.Out, "\n  Transcribed text: %s\n\n", text)

	if !c.confirm("Is this correct?") {
		fmt.Fprintln(c.Out, "  FAIL: transcription not confirmed")
		return false
	}
	fmt.Fprintln(c.Out, "  PASS: transcription verified by user")
	return true
}

func (c *Checks) confirm(question string) bool {
	fmt.Fprintf(c.Out, "%s [y/n]: ", question)
	answer, _ := c.reader.ReadString('\n')
	answer = strings.TrimSpace(strings.ToLower(answer))
	return answer == "y" || answer == "yes"
}

func deviceName(d *audio.DeviceInfo) string {
	if d == nil {
		return "system default"
	}
	return d.Name
}

// peakDBFS is the loudest sample relative to full scale; -Inf for silence.
func peakDBFS(c *pcm.Clip) float64 {
	peak := 0
	for _, s := range c.Samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		peak = max(peak, v)
	}
	return 20 * math.Log10(float64(peak)/32768)
}
