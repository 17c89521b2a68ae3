// Package coordinator runs a practice session: it owns the session
// machine, feeds it events from the audio collaborators and starts the
// work each new state calls for.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"shadowmaster/assess"
	"shadowmaster/audio"
	"shadowmaster/beep"
	"shadowmaster/capture"
	"shadowmaster/log"
	"shadowmaster/pcm"
	"shadowmaster/session"
)

var errStopped = errors.New("coordinator stopped")

// TopicTransition is the bus topic every Transition is published on.
const TopicTransition = "session:transition"

// Collaborators are the outside pieces a session drives. Assessor may be
// nil when assessment is never enabled.
type Collaborators struct {
	Source   capture.Source
	Recorder capture.Recorder
	Player   audio.Player
	Assessor assess.Assessor
}

type Options struct {
	// FeedbackHold is how long scores stay on screen before the next attempt.
	FeedbackHold time.Duration
	// An attempt may last RecordFactor times the segment plus RecordMargin.
	RecordFactor float64
	RecordMargin time.Duration
	// Gap is the pause after a cue before the segment or the attempt.
	Gap time.Duration
	// Label names the segment source in the session log.
	Label string
}

func DefaultOptions() Options {
	return Options{
		FeedbackHold: 2 * time.Second,
		RecordFactor: 1.5,
		RecordMargin: time.Second,
		Gap:          300 * time.Millisecond,
		Label:        "mic",
	}
}

// Transition is published for every event that changed the state.
type Transition struct {
	From  session.State
	To    session.State
	Event session.Event
	At    time.Time
}

type Stats struct {
	Segments    int `json:"segments"`
	Attempts    int `json:"attempts"`
	Assessments int `json:"assessments"`
}

type envelope struct {
	ev  session.Event
	gen uint64 // 0 for events from outside
	ack chan struct{}
}

// Coordinator serialises every event through a single goroutine (Run).
// Work started for a state runs under a generation number; once the state
// moves on, late results from that work are dropped.
type Coordinator struct {
	m    *session.Machine
	c    Collaborators
	opts Options
	bus  evbus.Bus

	inbox chan envelope
	done  chan struct{}

	mu        sync.Mutex
	changed   chan struct{}
	stats     Stats
	sessionID string

	// owned by Run
	gen     uint64
	segment *pcm.Clip
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(m *session.Machine, c Collaborators, opts Options) *Coordinator {
	return &Coordinator{
		m:       m,
		c:       c,
		opts:    opts,
		bus:     evbus.New(),
		inbox:   make(chan envelope, 64),
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// Dispatch queues ev for the event loop. It never blocks once Run has
// returned.
func (c *Coordinator) Dispatch(ev session.Event) {
	c.send(envelope{ev: ev}, nil)
}

func (c *Coordinator) send(env envelope, stop <-chan struct{}) bool {
	select {
	case c.inbox <- env:
		return true
	case <-c.done:
	case <-stop:
	}
	return false
}

// Flush waits until every event dispatched before it has been applied.
func (c *Coordinator) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	if !c.send(envelope{ack: ack}, ctx.Done()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errStopped
	}
	select {
	case <-ack:
		return nil
	case <-c.done:
		return errStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies queued events until ctx is cancelled. The session is left
// in whatever state it was in.
func (c *Coordinator) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.stopAction()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.inbox:
			if env.ack != nil {
				close(env.ack)
				continue
			}
			if env.gen != 0 && env.gen != c.gen {
				continue
			}
			c.apply(ctx, env.ev)
		}
	}
}

func (c *Coordinator) apply(ctx context.Context, ev session.Event) {
	c.mu.Lock()
	from := c.m.State()
	to := c.m.ProcessEvent(ev)
	if to == from {
		c.mu.Unlock()
		return
	}
	c.count(from, to, ev)
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()

	log.Transition(from.Phase().String(), to.Phase().String(), ev.Kind().String())
	c.bus.Publish(TopicTransition, Transition{From: from, To: to, Event: ev, At: time.Now()})

	c.stopAction()
	c.startAction(ctx, from, to, ev)
}

// count updates stats and session bookkeeping; c.mu is held.
func (c *Coordinator) count(from, to session.State, ev session.Event) {
	if _, ok := from.(session.Idle); ok {
		c.stats = Stats{}
		c.sessionID = uuid.NewString()
		cfg := c.m.CurrentConfig()
		log.SessionStart(c.sessionID, c.opts.Label, cfg.PlaybackRepeats, cfg.UserRepeats, cfg.AssessmentEnabled, cfg.BusMode)
	}

	switch e := ev.(type) {
	case session.SegmentDetectedEvent:
		c.stats.Segments++
	case session.RecordingCompleteEvent:
		c.stats.Attempts++
		if _, scored := to.(session.Assessment); !scored {
			log.UnscoredAttempt(e.Recording.Duration())
		}
	case session.AssessmentCompleteEvent:
		c.stats.Assessments++
	}

	if _, ok := to.(session.Idle); ok {
		log.SessionEnd(c.sessionID, c.stats.Segments, c.stats.Attempts)
	}
}

func (c *Coordinator) stopAction() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
}

// startAction launches the work for the entered state. Its result comes
// back through the inbox tagged with the current generation.
func (c *Coordinator) startAction(ctx context.Context, from, to session.State, ev session.Event) {
	c.gen++
	gen := c.gen

	var work func(ctx context.Context) session.Event
	switch st := to.(type) {
	case session.Listening:
		_, skipped := ev.(session.SkipEvent)
		_, resumed := from.(session.PausedForNavigation)
		finished := !skipped && !resumed && from.Phase() != session.PhaseIdle
		work = func(ctx context.Context) session.Event { return c.listen(ctx, finished) }
	case session.SegmentDetected:
		c.segment = st.Segment
		work = func(ctx context.Context) session.Event {
			c.cue(ctx, beep.Playback)
			return session.PlaybackCompleteEvent{}
		}
	case session.Playback:
		work = func(ctx context.Context) session.Event { return c.playback(ctx, st) }
	case session.UserRecording:
		seg := c.segment
		work = func(ctx context.Context) session.Event { return c.record(ctx, seg) }
	case session.Assessment:
		work = func(ctx context.Context) session.Event { return c.assess(ctx, st) }
	case session.Feedback:
		work = func(ctx context.Context) session.Event {
			if !sleep(ctx, c.opts.FeedbackHold) {
				return nil
			}
			return session.FeedbackCompleteEvent{}
		}
	case session.Idle:
		c.segment = nil
		return
	default:
		// PausedForNavigation waits for the learner.
		return
	}

	actx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if next := work(actx); next != nil {
			c.send(envelope{ev: next, gen: gen}, actx.Done())
		}
	}()
}

func (c *Coordinator) listen(ctx context.Context, finished bool) session.Event {
	if finished {
		c.cue(ctx, beep.Done)
	}
	seg, err := c.c.Source.Next(ctx)
	switch {
	case err == nil:
		return session.SegmentDetectedEvent{Segment: seg}
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, capture.ErrSourceExhausted):
		log.Info("source exhausted, stopping session")
	default:
		log.Errorf("segment source: %v", err)
	}
	return session.StopEvent{}
}

func (c *Coordinator) playback(ctx context.Context, st session.Playback) session.Event {
	if st.CurrentRepeat > 1 {
		c.cue(ctx, beep.Playback)
	}
	if !sleep(ctx, c.opts.Gap) {
		return nil
	}
	if err := c.c.Player.Play(ctx, st.Segment); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Errorf("segment playback: %v", err)
		return session.SkipEvent{}
	}
	return session.PlaybackCompleteEvent{}
}

func (c *Coordinator) record(ctx context.Context, seg *pcm.Clip) session.Event {
	c.cue(ctx, beep.YourTurn)
	if !sleep(ctx, c.opts.Gap) {
		return nil
	}
	rec, err := c.c.Recorder.Record(ctx, capture.AttemptLimit(seg, c.opts.RecordFactor, c.opts.RecordMargin))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, capture.ErrNoSpeech) {
			log.Warn("attempt had no speech, skipping segment")
		} else {
			log.Errorf("recording attempt: %v", err)
		}
		c.cue(ctx, beep.Error)
		return session.SkipEvent{}
	}
	return session.RecordingCompleteEvent{Recording: rec}
}

func (c *Coordinator) assess(ctx context.Context, st session.Assessment) session.Event {
	if c.c.Assessor == nil {
		log.Warn("assessment enabled without an assessor")
		c.cue(ctx, beep.Error)
		return session.SkipEvent{}
	}
	start := time.Now()
	res, err := c.c.Assessor.Assess(ctx, st.Segment, st.Recording)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Errorf("assessment: %v", err)
		log.UnscoredAttempt(st.Recording.Duration())
		c.cue(ctx, beep.Error)
		return session.SkipEvent{}
	}
	log.Assessment(res.Overall, res.Pronunciation, res.Fluency, res.Completeness, time.Since(start))
	return session.AssessmentCompleteEvent{Result: res}
}

// cue plays a cue tone. A failed cue is logged and otherwise ignored.
func (c *Coordinator) cue(ctx context.Context, k beep.Kind) {
	clip := beep.Cue(k)
	if clip.Len() == 0 {
		return
	}
	if err := c.c.Player.Play(ctx, clip); err != nil && ctx.Err() == nil {
		log.Warnf("%s cue: %v", k, err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Coordinator) State() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m.State()
}

// UpdateConfig changes the live configuration; it applies from the next
// transition that reads it.
func (c *Coordinator) UpdateConfig(cfg session.Config) {
	c.m.UpdateConfig(cfg)
	log.Infof("config updated: %+v", c.m.CurrentConfig())
}

func (c *Coordinator) CurrentConfig() session.Config {
	return c.m.CurrentConfig()
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SessionID identifies the current or most recent session; empty before
// the first Start.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Subscribe registers fn for every Transition. fn runs on the event loop
// and must not block or call Dispatch synchronously.
func (c *Coordinator) Subscribe(fn func(Transition)) error {
	return c.bus.Subscribe(TopicTransition, fn)
}

// WaitFor blocks until the state satisfies ok or ctx ends.
func (c *Coordinator) WaitFor(ctx context.Context, ok func(session.State) bool) (session.State, error) {
	for {
		c.mu.Lock()
		st := c.m.State()
		ch := c.changed
		c.mu.Unlock()
		if ok(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// WaitPhase is WaitFor on the state's phase.
func (c *Coordinator) WaitPhase(ctx context.Context, p session.Phase) (session.State, error) {
	return c.WaitFor(ctx, func(s session.State) bool { return s.Phase() == p })
}
