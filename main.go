package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"shadowmaster/assess"
	"shadowmaster/audio"
	"shadowmaster/beep"
	"shadowmaster/capture"
	"shadowmaster/config"
	"shadowmaster/coordinator"
	"shadowmaster/doctor"
	"shadowmaster/hotkey"
	"shadowmaster/log"
	"shadowmaster/pcm"
	"shadowmaster/practice"
	"shadowmaster/segmenter"
	"shadowmaster/server"
	"shadowmaster/session"
	"shadowmaster/shutdown"
	"shadowmaster/transcriber"
)

var version = "dev"

type cliFlags struct {
	playbackRepeats *int
	userRepeats     *int
	assess          *bool
	bus             *bool
	noNavPause      *bool
	preset          *string
	speed           *float64
	format          *string
	output          *string
	lang            *string
	assessor        *string
	setup           *bool
	device          *string
	hotkey          *string
	longPress       *time.Duration
	logPath         *string
	configPath      *string
	addr            *string
	version         *bool
	test            *bool
}

func defineFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		playbackRepeats: fs.Int("playback-repeats", 2, "Times each segment is played before your turn"),
		userRepeats:     fs.Int("user-repeats", 1, "Attempts recorded per segment"),
		assess:          fs.Bool("assess", false, "Score each attempt against the segment"),
		bus:             fs.Bool("bus", false, "Bus mode: listen and repeat without recording"),
		noNavPause:      fs.Bool("no-nav-pause", false, "Ignore navigation pauses"),
		preset:          fs.String("preset", segmenter.DefaultPreset, "Segmentation preset: "+strings.Join(segmenter.PresetNames(), ", ")),
		speed:           fs.Float64("speed", 1, "Lesson speed before splitting (0.8 = 20% slower)"),
		format:          fs.String("format", "wav", "Practice track format: "+strings.Join(practice.Formats, ", ")),
		output:          fs.String("output", "", "Output file or directory for build and segments"),
		lang:            fs.String("lang", "", "Language code for assessment (e.g., en, es, fr). Empty = auto-detect"),
		assessor:        fs.String("assessor", "", "Transcription service for assessment: groq, openai or fake"),
		setup:           fs.Bool("setup", false, "Select microphone device (otherwise uses system default)"),
		device:          fs.String("device", "", "Use the microphone whose name contains this text"),
		hotkey:          fs.String("hotkey", hotkey.DefaultBinding, "Global hotkey: tap to skip, hold to pause (\"none\" disables)"),
		longPress:       fs.Duration("longpress", 350*time.Millisecond, "Hold threshold separating a tap from a hold"),
		logPath:         fs.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)"),
		configPath:      fs.String("config", "", "YAML config file (default: user config dir)"),
		addr:            fs.String("addr", "", "HTTP API listen address (\"off\" disables)"),
		version:         fs.Bool("version", false, "Print version and exit"),
		test:            fs.Bool("test", false, "Test mode (headless, stdin-driven)"),
	}
}

// flagSettings maps flags that override a config setting to its key.
var flagSettings = map[string]string{
	"playback-repeats": "playback_repeats",
	"user-repeats":     "user_repeats",
	"assess":           "assessment",
	"bus":              "bus_mode",
	"no-nav-pause":     "pause_for_navigation",
	"preset":           "preset",
	"speed":            "speed",
	"lang":             "language",
	"assessor":         "assessor",
	"addr":             "server_addr",
}

// applyFlags overlays the flags that were set explicitly on cfg.
func applyFlags(cfg *config.Config, fs *flag.FlagSet) error {
	var errs []error
	fs.Visit(func(f *flag.Flag) {
		key, ok := flagSettings[f.Name]
		if !ok {
			return
		}
		value := f.Value.String()
		switch f.Name {
		case "no-nav-pause":
			off, _ := strconv.ParseBool(value)
			value = strconv.FormatBool(!off)
		case "addr":
			if value == "off" {
				value = ""
			}
		}
		if err := cfg.Set(key, value); err != nil {
			errs = append(errs, fmt.Errorf("-%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

var modes = []string{"practice", "build", "segments", "serve", "doctor"}

// splitMode peels the mode word off the positional arguments.
func splitMode(args []string) (string, []string) {
	if len(args) > 0 {
		for _, m := range modes {
			if args[0] == m {
				return m, args[1:]
			}
		}
	}
	return "practice", args
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, `shadowmaster %s: language shadowing practice

Usage:
  shadowmaster [flags] [practice] [lesson-file]   live session (microphone without a file)
  shadowmaster [flags] build files...              render offline practice tracks
  shadowmaster [flags] segments file               list the segments of a recording
  shadowmaster [flags] serve [lesson-file]         headless session driven over HTTP
  shadowmaster -test lesson-file [attempt-file]    headless session driven over stdin
  shadowmaster [flags] doctor                      check hotkey, microphone and playback

Flags:
`, version)
	flag.PrintDefaults()
}

func initCrashLog() {
	logPath, err := log.ResolveDir(flagValue("logpath"))
	if err != nil {
		return
	}
	if err := os.MkdirAll(logPath, 0755); err != nil {
		return
	}
	crashFile, err := os.OpenFile(filepath.Join(logPath, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

// flagValue scans os.Args for -name value before flags are parsed.
func flagValue(name string) string {
	args := os.Args[1:]
	for i, a := range args {
		a = strings.TrimLeft(a, "-")
		if v, ok := strings.CutPrefix(a, name+"="); ok {
			return v
		}
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func run() {
	f := defineFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()

	if *f.version {
		fmt.Printf("shadowmaster %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*f.logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	cfg, err := config.Load(*f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := applyFlags(&cfg, flag.CommandLine); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	beep.SetVolume(cfg.BeepVolume)

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	mode, args := splitMode(flag.Args())
	var code int
	switch {
	case *f.test:
		code = runTestMode(cfg, args)
	case mode == "build":
		code = runBuild(cfg, args, *f.format, *f.output)
	case mode == "segments":
		code = runSegments(cfg, args, *f.output)
	case mode == "doctor":
		code = runDoctor(cfg, f)
	default:
		code = runSession(cfg, f, args, mode == "practice")
	}
	log.Close()
	os.Exit(code)
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return shutdown.Context(parent, func(s os.Signal) {
		log.Infof("signal %s, shutting down", s)
	})
}

func newVAD() segmenter.Classifier {
	vad, err := segmenter.NewWebRTC(segmenter.DefaultMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return vad
}

func presetFor(cfg config.Config) segmenter.Preset {
	p, _ := segmenter.LookupPreset(cfg.Preset) // validated at start-up
	return p
}

// newAssessor builds the transcript assessor for cfg. Without credentials
// it returns nil, which only matters once assessment is switched on.
func newAssessor(cfg config.Config) (assess.Assessor, error) {
	tr, err := transcriber.New(cfg.Assessor, transcriber.Keys{Groq: cfg.GroqAPIKey, OpenAI: cfg.OpenAIAPIKey})
	if err != nil {
		if cfg.Assessment {
			return nil, err
		}
		log.Warnf("assessment unavailable: %v", err)
		return nil, nil
	}
	if cfg.Language != "" {
		tr.SetLanguage(cfg.Language)
	}
	return assess.NewTranscript(tr), nil
}

func practiceOptions(cfg config.Config) practice.Options {
	return practice.Options{
		PlaybackRepeats: cfg.PlaybackRepeats,
		UserRepeats:     cfg.UserRepeats,
		BeepVolume:      cfg.BeepVolume,
		Speed:           cfg.Speed,
	}
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "system default"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT: playback degrades while recording)"
		}
	}
	return "mic: " + name + suffix
}

// runSession runs a live session: the TUI when interactive, otherwise
// headless behind the HTTP API.
func runSession(cfg config.Config, f *cliFlags, args []string, interactive bool) int {
	if len(args) > 1 {
		fmt.Fprintln(os.Stderr, "Error: at most one lesson file")
		return 2
	}
	var binding *hotkey.Binding
	hotkeyLine := ""
	if b := *f.hotkey; b != "" && b != "none" {
		parsed, err := hotkey.ParseBinding(b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: -hotkey: %v\n", err)
			return 2
		}
		binding = &parsed
		hotkeyLine = parsed.String() + ": tap to skip, hold to pause"
	}
	vad := newVAD()

	actx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()

	player, err := actx.NewPlayer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing playback: %v\n", err)
		return 1
	}

	var dev *audio.DeviceInfo
	if *f.setup {
		dev, err = audio.SelectDevice(actx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v (using default)\n", err)
			dev = nil
		}
	} else if dev, err = audio.FindDevice(actx, *f.device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	mic, err := actx.NewCapture(dev, audio.DefaultCaptureConfig())
	if err != nil {
		log.Errorf("capture device init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing capture device: %v\n", err)
		return 1
	}
	defer mic.Close()

	var src capture.Source
	sourceLine := "source: live microphone"
	label := "mic"
	if len(args) == 1 {
		fsrc, err := capture.LoadFileSource(args[0], cfg.Speed, presetFor(cfg), vad)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		src = fsrc
		label = "file:" + filepath.Base(args[0])
		sourceLine = fmt.Sprintf("source: %s (%d segments)", filepath.Base(args[0]), len(fsrc.Segments()))
	} else {
		src = capture.NewMicSource(mic, presetFor(cfg), vad)
	}

	assessor, err := newAssessor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := coordinator.DefaultOptions()
	opts.FeedbackHold = cfg.FeedbackHold
	opts.RecordMargin = cfg.RecordMargin
	opts.Label = label
	coord := coordinator.New(session.NewMachine(cfg.Shadowing()), coordinator.Collaborators{
		Source:   src,
		Recorder: capture.NewMicRecorder(mic, vad),
		Player:   player,
		Assessor: assessor,
	}, opts)

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return coord.Run(gctx) })

	if cfg.ServerAddr != "" {
		srv := server.New(coord, server.Options{
			OutDir:   filepath.Join(log.Dir(), "tracks"),
			Preset:   presetFor(cfg),
			VAD:      newVAD(),
			Practice: practiceOptions(cfg),
			Version:  version,
		})
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ServerAddr) })
	}

	if binding != nil {
		g.Go(func() error { return runHotkey(gctx, *binding, *f.longPress, coord) })
	}

	if interactive {
		p := NewTUIProgram(coord, sourceLine, hotkeyLine)
		if err := coord.Subscribe(func(t coordinator.Transition) { tuiSend(TransitionMsg{T: t}) }); err != nil {
			log.Warnf("tui subscribe: %v", err)
		}
		tuiSend(DeviceLineMsg{Text: deviceLineText(dev)})
		g.Go(func() error {
			done := make(chan struct{})
			defer close(done)
			go pumpTUI(p, done)
			go func() {
				select {
				case <-gctx.Done():
					p.Quit()
				case <-done:
				}
			}()
			_, err := p.Run()
			cancel()
			if err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		})
	} else {
		show := printTransition(os.Stdout)
		standalone := cfg.ServerAddr == ""
		err := coord.Subscribe(func(t coordinator.Transition) {
			show(t)
			// Without the API nothing can restart the session.
			if standalone && t.To.Phase() == session.PhaseIdle {
				cancel()
			}
		})
		if err != nil {
			log.Warnf("subscribe: %v", err)
		}
		fmt.Printf("shadowmaster %s: %s, %s\n", version, sourceLine, deviceLineText(dev))
		if standalone {
			coord.Dispatch(session.StartEvent{})
		} else {
			fmt.Printf("POST http://%s/api/session/events {\"event\":\"start\"} to begin\n", cfg.ServerAddr)
		}
	}

	err = g.Wait()
	st := coord.Stats()
	log.Infof("exit: %d segments, %d attempts", st.Segments, st.Attempts)
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// runDoctor runs the interactive diagnostics with the configured device,
// hotkey and transcription service.
func runDoctor(cfg config.Config, f *cliFlags) int {
	checks := &doctor.Checks{
		VAD:    newVAD(),
		Preset: presetFor(cfg),
	}

	if b := *f.hotkey; b != "" && b != "none" {
		binding, err := hotkey.ParseBinding(b)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: -hotkey: %v\n", err)
			return 2
		}
		if info, err := hotkey.Diagnose(binding); err != nil {
			fmt.Printf("hotkey: %v\n", err)
		} else {
			fmt.Printf("hotkey: %s\n", info)
		}
		hk, err := hotkey.New(binding)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		checks.Hotkey = hk
		checks.Binding = binding.String()
	}

	actx, err := audio.NewContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing audio context: %v\n", err)
		return 1
	}
	defer actx.Close()
	checks.Audio = actx
	if checks.Device, err = audio.FindDevice(actx, *f.device); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	tr, err := transcriber.New(cfg.Assessor, transcriber.Keys{Groq: cfg.GroqAPIKey, OpenAI: cfg.OpenAIAPIKey})
	if err != nil {
		log.Warnf("doctor: %v", err)
	} else {
		if cfg.Language != "" {
			tr.SetLanguage(cfg.Language)
		}
		checks.Transcriber = tr
	}
	return doctor.Run(checks)
}

// runHotkey turns hotkey gestures into session events until ctx ends. A
// hotkey that cannot be registered is logged and otherwise ignored.
func runHotkey(ctx context.Context, b hotkey.Binding, longPress time.Duration, ctl server.Controller) error {
	hk, err := hotkey.New(b)
	if err == nil {
		err = hk.Register()
	}
	if err != nil {
		log.Warnf("hotkey %s unavailable: %v", b, err)
		return nil
	}
	defer hk.Unregister()

	gestures := hotkey.NewGestures(hk, longPress)
	defer gestures.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case g := <-gestures.C():
			log.Info("hotkey_" + g.String())
			ctl.Dispatch(g.Event())
		}
	}
}

// trackPath is where build writes the track for src.
func trackPath(src, output, format string, many bool) string {
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + "_practice." + format
	if output == "" {
		return filepath.Join(filepath.Dir(src), name)
	}
	if many || strings.HasSuffix(output, string(os.PathSeparator)) {
		return filepath.Join(output, name)
	}
	if info, err := os.Stat(output); err == nil && info.IsDir() {
		return filepath.Join(output, name)
	}
	return output
}

func runBuild(cfg config.Config, files []string, format, output string) int {
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: shadowmaster build files...")
		return 2
	}
	if !practice.ValidFormat(format) {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (use %s)\n", format, strings.Join(practice.Formats, ", "))
		return 2
	}
	vad := newVAD()

	failed := 0
	for _, src := range files {
		dst := trackPath(src, output, format, len(files) > 1)
		segments, length, err := buildTrack(src, dst, format, presetFor(cfg), vad, practiceOptions(cfg))
		if err != nil {
			failed++
			log.Errorf("build %s: %v", src, err)
			fmt.Fprintf(os.Stderr, "%s: %v\n", src, err)
			continue
		}
		log.Infof("built %s: %d segments, %s", dst, segments, length)
		fmt.Printf("%s -> %s (%d segments, %s)\n", src, dst, segments, length.Round(time.Second))
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func buildTrack(src, dst, format string, preset segmenter.Preset, vad segmenter.Classifier, opts practice.Options) (int, time.Duration, error) {
	clip, err := pcm.Decode(src)
	if err != nil {
		return 0, 0, err
	}
	track, segs, err := practice.Render(clip, preset, vad, opts)
	if err != nil {
		return 0, 0, err
	}
	if err := practice.WriteFile(dst, track, format); err != nil {
		return 0, 0, err
	}
	return len(segs), track.Duration(), nil
}

// runSegments lists the segments of a recording and, with -output, writes
// each one to that directory as a WAV file.
func runSegments(cfg config.Config, args []string, output string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: shadowmaster segments file")
		return 2
	}
	clip, err := pcm.Decode(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	segs := segmenter.Split(clip, presetFor(cfg), newVAD())
	if err := writeSegmentTable(os.Stdout, segs); err != nil {
		return 1
	}
	if output == "" {
		return 0
	}
	if err := os.MkdirAll(output, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for i, s := range segs {
		if err := writeWAVFile(filepath.Join(output, fmt.Sprintf("segment_%03d.wav", i+1)), s); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	fmt.Printf("wrote %d segments to %s\n", len(segs), output)
	return 0
}

func writeWAVFile(path string, c *pcm.Clip) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pcm.WriteWAV(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
