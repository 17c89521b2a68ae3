package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowmaster/assess"
	"shadowmaster/audio"
	"shadowmaster/beep"
	"shadowmaster/capture"
	"shadowmaster/log"
	"shadowmaster/pcm"
	"shadowmaster/session"
)

type harness struct {
	co  *Coordinator
	rec *capture.FakeRecorder

	mu      sync.Mutex
	phases  []session.Phase
	idle    chan struct{}
	idleSet bool
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.FeedbackHold = 0
	opts.Gap = 0
	return opts
}

func start(t *testing.T, cfg session.Config, c Collaborators) *harness {
	t.Helper()
	h := &harness{idle: make(chan struct{})}
	if c.Recorder == nil {
		h.rec = &capture.FakeRecorder{}
		c.Recorder = h.rec
	}
	h.co = New(session.NewMachine(cfg), c, fastOptions())
	require.NoError(t, h.co.Subscribe(func(tr Transition) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.phases = append(h.phases, tr.To.Phase())
		if _, ok := tr.To.(session.Idle); ok && !h.idleSet {
			h.idleSet = true
			close(h.idle)
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.co.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h.co.Dispatch(session.StartEvent{})
	return h
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	select {
	case <-h.idle:
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop; phases %v", h.Phases())
	}
}

func (h *harness) waitPhase(t *testing.T, p session.Phase) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := h.co.WaitPhase(ctx, p)
	require.NoError(t, err, "waiting for %s; phases %v", p, h.Phases())
}

func (h *harness) Phases() []session.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]session.Phase(nil), h.phases...)
}

func segments(n int) []*pcm.Clip {
	out := make([]*pcm.Clip, n)
	for i := range out {
		out[i] = pcm.Silence(200*time.Millisecond, pcm.SampleRate)
	}
	return out
}

// holdPlayer blocks on one clip until cancelled and plays the rest
// instantly.
type holdPlayer struct {
	hold *pcm.Clip

	mu        sync.Mutex
	played    []*pcm.Clip
	cancelled int
}

func (p *holdPlayer) Play(ctx context.Context, clip *pcm.Clip) error {
	p.mu.Lock()
	p.played = append(p.played, clip)
	hold := clip == p.hold
	p.mu.Unlock()
	if !hold {
		return nil
	}
	<-ctx.Done()
	p.mu.Lock()
	p.cancelled++
	p.mu.Unlock()
	return ctx.Err()
}

type brokenSource struct{}

func (brokenSource) Next(context.Context) (*pcm.Clip, error) {
	return nil, errors.New("mic unplugged")
}

func TestPlainSession(t *testing.T) {
	segs := segments(1)
	player := &audio.FakePlayer{}
	h := start(t, session.Config{PlaybackRepeats: 2, UserRepeats: 1}, Collaborators{
		Source: capture.NewFileSource(segs),
		Player: player,
	})
	h.waitIdle(t)

	assert.Equal(t, []session.Phase{
		session.PhaseListening,
		session.PhaseSegmentDetected,
		session.PhasePlayback,
		session.PhasePlayback,
		session.PhaseUserRecording,
		session.PhaseListening,
		session.PhaseIdle,
	}, h.Phases())

	assert.Equal(t, []*pcm.Clip{
		beep.Cue(beep.Playback), segs[0],
		beep.Cue(beep.Playback), segs[0],
		beep.Cue(beep.YourTurn),
		beep.Cue(beep.Done),
	}, player.Played())

	assert.Equal(t, []time.Duration{1300 * time.Millisecond}, h.rec.Limits())
	assert.Equal(t, Stats{Segments: 1, Attempts: 1}, h.co.Stats())
	assert.NotEmpty(t, h.co.SessionID())
}

func TestAssessedSession(t *testing.T) {
	fake := &assess.Fake{Result: session.AssessmentResult{Overall: 80, Pronunciation: 70, Fluency: 90, Completeness: 85}}
	h := start(t, session.Config{PlaybackRepeats: 1, UserRepeats: 2, AssessmentEnabled: true}, Collaborators{
		Source:   capture.NewFileSource(segments(2)),
		Player:   &audio.FakePlayer{},
		Assessor: fake,
	})
	h.waitIdle(t)

	perSegment := []session.Phase{
		session.PhaseListening,
		session.PhaseSegmentDetected,
		session.PhasePlayback,
		session.PhaseUserRecording,
		session.PhaseAssessment,
		session.PhaseFeedback,
		session.PhaseUserRecording,
		session.PhaseAssessment,
		session.PhaseFeedback,
	}
	want := append(append(append([]session.Phase{}, perSegment...), perSegment...), session.PhaseListening, session.PhaseIdle)
	assert.Equal(t, want, h.Phases())
	assert.Equal(t, 4, fake.Calls())
	assert.Equal(t, Stats{Segments: 2, Attempts: 4, Assessments: 4}, h.co.Stats())
}

func TestBusModeNeverRecords(t *testing.T) {
	h := start(t, session.Config{PlaybackRepeats: 1, UserRepeats: 3, BusMode: true}, Collaborators{
		Source: capture.NewFileSource(segments(3)),
		Player: &audio.FakePlayer{},
	})
	h.waitIdle(t)

	assert.Empty(t, h.rec.Limits())
	assert.Equal(t, Stats{Segments: 3}, h.co.Stats())
	assert.NotContains(t, h.Phases(), session.PhaseUserRecording)
}

func TestSkipCancelsPlayback(t *testing.T) {
	segs := segments(2)
	player := &holdPlayer{hold: segs[0]}
	h := start(t, session.Config{PlaybackRepeats: 1, UserRepeats: 1}, Collaborators{
		Source: capture.NewFileSource(segs),
		Player: player,
	})

	require.Eventually(t, func() bool {
		player.mu.Lock()
		defer player.mu.Unlock()
		return len(player.played) == 2
	}, 5*time.Second, 5*time.Millisecond)
	h.co.Dispatch(session.SkipEvent{})
	h.waitIdle(t)

	assert.Equal(t, []session.Phase{
		session.PhaseListening,
		session.PhaseSegmentDetected,
		session.PhasePlayback,
		session.PhaseListening,
		session.PhaseSegmentDetected,
		session.PhasePlayback,
		session.PhaseUserRecording,
		session.PhaseListening,
		session.PhaseIdle,
	}, h.Phases())

	player.mu.Lock()
	defer player.mu.Unlock()
	assert.Equal(t, 1, player.cancelled)
	// A skipped segment gets no done cue.
	assert.Equal(t, beep.Cue(beep.Playback), player.played[2])
	assert.Equal(t, Stats{Segments: 2, Attempts: 1}, h.co.Stats())
}

func TestNavigationPauseRestartsAttempt(t *testing.T) {
	rec := &capture.FakeRecorder{Delay: 200 * time.Millisecond}
	h := start(t, session.DefaultConfig(), Collaborators{
		Source:   capture.NewFileSource(segments(1)),
		Recorder: rec,
		Player:   &audio.FakePlayer{},
	})

	require.Eventually(t, func() bool { return len(rec.Limits()) == 1 }, 5*time.Second, 5*time.Millisecond)
	h.co.Dispatch(session.NavigationStartedEvent{})
	h.waitPhase(t, session.PhasePausedForNavigation)

	time.Sleep(300 * time.Millisecond)
	st := h.co.State()
	require.IsType(t, session.PausedForNavigation{}, st)
	assert.Equal(t, session.UserRecording{CurrentRepeat: 1, TotalRepeats: 1}, st.(session.PausedForNavigation).Saved)

	h.co.Dispatch(session.NavigationEndedEvent{})
	h.waitIdle(t)

	assert.Len(t, rec.Limits(), 2)
	assert.Equal(t, Stats{Segments: 1, Attempts: 1}, h.co.Stats())
}

func TestAssessmentFailureSkips(t *testing.T) {
	player := &audio.FakePlayer{}
	h := start(t, session.Config{PlaybackRepeats: 1, UserRepeats: 2, AssessmentEnabled: true}, Collaborators{
		Source:   capture.NewFileSource(segments(1)),
		Player:   player,
		Assessor: &assess.Fake{Err: errors.New("quota exceeded")},
	})
	h.waitIdle(t)

	assert.Equal(t, []session.Phase{
		session.PhaseListening,
		session.PhaseSegmentDetected,
		session.PhasePlayback,
		session.PhaseUserRecording,
		session.PhaseAssessment,
		session.PhaseListening,
		session.PhaseIdle,
	}, h.Phases())
	assert.Contains(t, player.Played(), beep.Cue(beep.Error))
	assert.Equal(t, Stats{Segments: 1, Attempts: 1}, h.co.Stats())
}

func TestPlaybackFailureSkips(t *testing.T) {
	player := &audio.FakePlayer{Err: errors.New("device gone")}
	h := start(t, session.DefaultConfig(), Collaborators{
		Source: capture.NewFileSource(segments(1)),
		Player: player,
	})
	h.waitIdle(t)

	assert.Equal(t, []session.Phase{
		session.PhaseListening,
		session.PhaseSegmentDetected,
		session.PhasePlayback,
		session.PhaseListening,
		session.PhaseIdle,
	}, h.Phases())
	assert.Empty(t, h.rec.Limits())
}

func TestRecordingFailureSkips(t *testing.T) {
	for _, err := range []error{errors.New("overrun"), capture.ErrNoSpeech} {
		t.Run(err.Error(), func(t *testing.T) {
			player := &audio.FakePlayer{}
			fake := &assess.Fake{}
			h := start(t, session.Config{PlaybackRepeats: 1, UserRepeats: 2, AssessmentEnabled: true}, Collaborators{
				Source:   capture.NewFileSource(segments(1)),
				Recorder: &capture.FakeRecorder{Err: err},
				Player:   player,
				Assessor: fake,
			})
			h.waitIdle(t)

			assert.Equal(t, []session.Phase{
				session.PhaseListening,
				session.PhaseSegmentDetected,
				session.PhasePlayback,
				session.PhaseUserRecording,
				session.PhaseListening,
				session.PhaseIdle,
			}, h.Phases())
			assert.Contains(t, player.Played(), beep.Cue(beep.Error))
			assert.Zero(t, fake.Calls(), "nothing is sent for scoring")
			assert.Equal(t, Stats{Segments: 1}, h.co.Stats())
		})
	}
}

func TestUnscoredAttemptsReachPracticeLog(t *testing.T) {
	dir := t.TempDir()
	log.SetDir(dir)
	require.NoError(t, log.Init())
	t.Cleanup(func() { log.Close(); log.SetDir("") })

	h := start(t, session.Config{PlaybackRepeats: 1, UserRepeats: 2}, Collaborators{
		Source: capture.NewFileSource(segments(1)),
		Player: &audio.FakePlayer{},
	})
	h.waitIdle(t)
	log.Close()

	data, err := os.ReadFile(filepath.Join(dir, "practice_log.txt"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "(unscored, 0.5s)"))
}

func TestSourceErrorStops(t *testing.T) {
	h := start(t, session.DefaultConfig(), Collaborators{
		Source: brokenSource{},
		Player: &audio.FakePlayer{},
	})
	h.waitIdle(t)
	assert.Equal(t, []session.Phase{session.PhaseListening, session.PhaseIdle}, h.Phases())
}

func TestStopDuringRecording(t *testing.T) {
	rec := &capture.FakeRecorder{Block: true}
	h := start(t, session.DefaultConfig(), Collaborators{
		Source:   capture.NewFileSource(segments(2)),
		Recorder: rec,
		Player:   &audio.FakePlayer{},
	})

	h.waitPhase(t, session.PhaseUserRecording)
	h.co.Dispatch(session.StopEvent{})
	h.waitIdle(t)

	// Nothing runs once idle.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, session.Idle{}, h.co.State())
	assert.Equal(t, Stats{Segments: 1}, h.co.Stats())
}

// gateRecorder holds every attempt until gate is closed.
type gateRecorder struct {
	gate  chan struct{}
	calls atomic.Int32
}

func (g *gateRecorder) Record(ctx context.Context, _ time.Duration) (*pcm.Clip, error) {
	g.calls.Add(1)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return pcm.Silence(300*time.Millisecond, pcm.SampleRate), nil
}

func TestLiveConfigChange(t *testing.T) {
	rec := &gateRecorder{gate: make(chan struct{})}
	h := start(t, session.Config{PlaybackRepeats: 1, UserRepeats: 1}, Collaborators{
		Source:   capture.NewFileSource(segments(1)),
		Recorder: rec,
		Player:   &audio.FakePlayer{},
	})

	require.Eventually(t, func() bool { return rec.calls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, session.UserRecording{CurrentRepeat: 1, TotalRepeats: 1}, h.co.State())

	h.co.UpdateConfig(session.Config{PlaybackRepeats: 1, UserRepeats: 3})
	assert.Equal(t, 3, h.co.CurrentConfig().UserRepeats)
	close(rec.gate)
	h.waitIdle(t)

	assert.Equal(t, int32(3), rec.calls.Load())
	assert.Equal(t, Stats{Segments: 1, Attempts: 3}, h.co.Stats())
}

func TestRestartResetsStats(t *testing.T) {
	h := start(t, session.DefaultConfig(), Collaborators{
		Source: capture.NewFileSource(segments(1)),
		Player: &audio.FakePlayer{},
	})
	h.waitIdle(t)
	first := h.co.SessionID()
	require.Equal(t, 1, h.co.Stats().Segments)

	// The source is already used up, so the second session stops at once.
	h.co.Dispatch(session.StartEvent{})
	require.Eventually(t, func() bool {
		return h.co.SessionID() != first && h.co.State() == session.Idle{}
	}, 5*time.Second, 5*time.Millisecond)

	assert.NotEqual(t, first, h.co.SessionID())
	assert.Equal(t, Stats{}, h.co.Stats())
}

func TestDispatchAfterRunReturns(t *testing.T) {
	co := New(session.NewMachine(session.DefaultConfig()), Collaborators{}, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, co.Run(ctx))

	for i := 0; i < 100; i++ {
		co.Dispatch(session.SkipEvent{})
	}
	assert.Equal(t, session.Idle{}, co.State())
}

type waitingSource struct{}

func (waitingSource) Next(ctx context.Context) (*pcm.Clip, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFlushOrdersAfterDispatch(t *testing.T) {
	h := start(t, session.DefaultConfig(), Collaborators{Source: waitingSource{}, Player: &audio.FakePlayer{}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.co.Flush(ctx))
	assert.Equal(t, session.Listening{}, h.co.State())

	h.co.Dispatch(session.StopEvent{})
	require.NoError(t, h.co.Flush(ctx))
	assert.Equal(t, session.Idle{}, h.co.State())
}

func TestFlushAfterRunReturns(t *testing.T) {
	co := New(session.NewMachine(session.DefaultConfig()), Collaborators{}, fastOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, co.Run(ctx))
	assert.ErrorIs(t, co.Flush(context.Background()), errStopped)
}
