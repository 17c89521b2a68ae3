package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"shadowmaster/audio"
	"shadowmaster/beep"
	"shadowmaster/capture"
	"shadowmaster/config"
	"shadowmaster/coordinator"
	"shadowmaster/log"
	"shadowmaster/pcm"
	"shadowmaster/session"
)

const defaultWaitTimeout = 30 * time.Second

// runTestMode plays a lesson file through a full session with no audio
// hardware. Attempts come from attemptPath when given, otherwise from a
// fake recorder. Commands arrive on stdin, one per line.
func runTestMode(cfg config.Config, args []string) int {
	beep.Disable()

	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: shadowmaster -test <lesson-file> [attempt-file]")
		return 2
	}
	vad := newVAD()

	src, err := capture.LoadFileSource(args[0], cfg.Speed, presetFor(cfg), vad)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading lesson: %v\n", err)
		return 1
	}

	var rec capture.Recorder = &capture.FakeRecorder{Delay: 200 * time.Millisecond}
	if len(args) == 2 {
		fakeCtx, err := audio.NewFakeContext(args[1], true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading attempt: %v\n", err)
			return 1
		}
		dev, err := fakeCtx.NewCapture(nil, audio.DefaultCaptureConfig())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating capture: %v\n", err)
			return 1
		}
		defer dev.Close()
		rec = capture.NewMicRecorder(dev, vad)
	}

	if cfg.Assessor == "" {
		cfg.Assessor = "fake"
	}
	assessor, err := newAssessor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	opts := coordinator.DefaultOptions()
	opts.FeedbackHold = 0
	opts.Gap = 0
	opts.RecordMargin = cfg.RecordMargin
	opts.Label = "test:" + filepath.Base(args[0])
	coord := coordinator.New(session.NewMachine(cfg.Shadowing()), coordinator.Collaborators{
		Source:   src,
		Recorder: rec,
		Player:   &audio.FakePlayer{Realtime: true},
		Assessor: assessor,
	}, opts)

	out := &syncWriter{w: os.Stdout}
	if err := coord.Subscribe(printTransition(out)); err != nil {
		log.Warnf("subscribe: %v", err)
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		coord.Run(ctx)
	}()

	fmt.Fprintf(out, "READY segments=%d\n", len(src.Segments()))
	d := &driver{coord: coord, cfg: cfg, out: out}
	d.run(ctx, os.Stdin)

	st := coord.Stats()
	fmt.Fprintf(out, "DONE segments=%d attempts=%d assessments=%d\n", st.Segments, st.Attempts, st.Assessments)
	cancel()
	<-runDone
	return 0
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// printTransition writes one line per transition:
//
//	STATE <phase> <event> <state>
func printTransition(w io.Writer) func(coordinator.Transition) {
	return func(t coordinator.Transition) {
		fmt.Fprintf(w, "STATE %s %s %v\n", t.To.Phase(), t.Event.Kind(), t.To)
	}
}

// driver executes the headless command language:
//
//	START | STOP | SKIP | NAV_START | NAV_END
//	SET key=value
//	WAIT phase [timeout-ms]
//	SLEEP ms
//	STATS
//	QUIT
//
// Control events are applied before the next command runs.
type driver struct {
	coord *coordinator.Coordinator
	cfg   config.Config
	out   io.Writer
}

func (d *driver) run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if d.exec(ctx, scanner.Text()) {
			return
		}
	}
}

// exec runs one command and reports whether the driver should stop.
func (d *driver) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return false
	}
	cmd, args := strings.ToUpper(fields[0]), fields[1:]

	switch cmd {
	case "START":
		d.dispatch(ctx, session.StartEvent{})
	case "STOP":
		d.dispatch(ctx, session.StopEvent{})
	case "SKIP":
		d.dispatch(ctx, session.SkipEvent{})
	case "NAV_START":
		d.dispatch(ctx, session.NavigationStartedEvent{})
	case "NAV_END":
		d.dispatch(ctx, session.NavigationEndedEvent{})
	case "SET":
		d.set(args)
	case "WAIT":
		d.wait(ctx, args)
	case "SLEEP":
		if len(args) == 1 {
			if ms, err := strconv.Atoi(args[0]); err == nil {
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
				}
			}
		}
	case "STATS":
		st, _ := json.Marshal(struct {
			ID    string            `json:"id"`
			State session.View      `json:"state"`
			Stats coordinator.Stats `json:"stats"`
		}{d.coord.SessionID(), session.Describe(d.coord.State()), d.coord.Stats()})
		fmt.Fprintf(d.out, "STATS %s\n", st)
	case "QUIT":
		return true
	default:
		fmt.Fprintf(d.out, "ERR unknown command %q\n", fields[0])
	}
	return ctx.Err() != nil
}

func (d *driver) dispatch(ctx context.Context, ev session.Event) {
	d.coord.Dispatch(ev)
	if err := d.coord.Flush(ctx); err != nil {
		fmt.Fprintf(d.out, "ERR %s: %v\n", ev.Kind(), err)
	}
}

// set changes one setting; the shadowing settings take effect live.
func (d *driver) set(args []string) {
	if len(args) != 1 || !strings.Contains(args[0], "=") {
		fmt.Fprintln(d.out, "ERR usage: SET key=value")
		return
	}
	key, value, _ := strings.Cut(args[0], "=")
	next := d.coord.CurrentConfig()
	cfg := d.cfg.WithShadowing(next)
	if err := cfg.Set(key, value); err != nil {
		fmt.Fprintf(d.out, "ERR %v\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(d.out, "ERR %v\n", err)
		return
	}
	d.cfg = cfg
	d.coord.UpdateConfig(cfg.Shadowing())
	fmt.Fprintf(d.out, "OK %s=%s\n", key, value)
}

func (d *driver) wait(ctx context.Context, args []string) {
	if len(args) == 0 || len(args) > 2 {
		fmt.Fprintln(d.out, "ERR usage: WAIT phase [timeout-ms]")
		return
	}
	phase, err := session.ParsePhase(strings.ToLower(args[0]))
	if err != nil {
		fmt.Fprintf(d.out, "ERR %v\n", err)
		return
	}
	timeout := defaultWaitTimeout
	if len(args) == 2 {
		ms, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(d.out, "ERR bad timeout %q\n", args[1])
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, err := d.coord.WaitPhase(wctx, phase)
	if err != nil {
		fmt.Fprintf(d.out, "TIMEOUT %s (at %s)\n", phase, st.Phase())
		return
	}
	fmt.Fprintf(d.out, "REACHED %s\n", phase)
}

// writeSegmentTable lists segments with their position in the source.
func writeSegmentTable(w io.Writer, segs []*pcm.Clip) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tstart\tend\tlength\t")
	var total time.Duration
	for i, s := range segs {
		d := s.Duration()
		total += d
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t\n", i+1, fmtDur(s.Offset), fmtDur(s.Offset+d), fmtDur(d))
	}
	fmt.Fprintf(tw, "\t\t%d segments\t%s\t\n", len(segs), fmtDur(total))
	return tw.Flush()
}

func fmtDur(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
