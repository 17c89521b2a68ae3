package session

import (
	"sync"

	"shadowmaster/pcm"
)

// aux is the bookkeeping that survives transitions without being part of
// the emitted state.
type aux struct {
	segment     *pcm.Clip
	beforePause State
	// attempt holds the counters of the UserRecording that led into
	// Assessment, so Feedback can report them.
	attempt UserRecording
}

// Machine applies events to the session state one at a time. It is safe
// to call from several goroutines, but callers that care about ordering
// must serialise delivery themselves.
type Machine struct {
	mu    sync.RWMutex
	state State
	cfg   Config
	aux   aux
}

func NewMachine(cfg Config) *Machine {
	return &Machine{state: Idle{}, cfg: cfg.normalized()}
}

// ProcessEvent applies ev and returns the resulting state. Events with no
// meaning in the current state leave everything unchanged.
func (m *Machine) ProcessEvent(ev Event) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state, m.aux = transition(m.state, m.aux, m.cfg, ev)
	return m.state
}

// UpdateConfig replaces the live configuration. The active state is left
// as it is.
func (m *Machine) UpdateConfig(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.normalized()
	m.mu.Unlock()
}

func (m *Machine) CurrentConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// transition is the pure transition function. A no-op returns s and a
// unchanged.
func transition(s State, a aux, cfg Config, ev Event) (State, aux) {
	switch ev.(type) {
	case StopEvent:
		return Idle{}, aux{}
	case NavigationStartedEvent:
		switch s.(type) {
		case Idle, PausedForNavigation:
			return s, a
		}
		if !cfg.PauseForNavigation {
			return s, a
		}
		a.beforePause = s
		return PausedForNavigation{Saved: s}, a
	case SkipEvent:
		switch s.(type) {
		case Playback, UserRecording, Assessment, Feedback:
			return Listening{}, aux{}
		}
		return s, a
	}

	switch cur := s.(type) {
	case Idle:
		if _, ok := ev.(StartEvent); ok {
			return Listening{}, a
		}

	case Listening:
		if e, ok := ev.(SegmentDetectedEvent); ok && e.Segment != nil {
			a.segment = e.Segment
			return SegmentDetected{Segment: e.Segment}, a
		}

	case SegmentDetected:
		if _, ok := ev.(PlaybackCompleteEvent); ok {
			return Playback{Segment: cur.Segment, CurrentRepeat: 1, TotalRepeats: cfg.PlaybackRepeats}, a
		}

	case Playback:
		if _, ok := ev.(PlaybackCompleteEvent); !ok {
			break
		}
		if total := cfg.PlaybackRepeats; cur.CurrentRepeat < total {
			return Playback{Segment: cur.Segment, CurrentRepeat: cur.CurrentRepeat + 1, TotalRepeats: total}, a
		}
		if cfg.BusMode {
			return Listening{}, a
		}
		return UserRecording{CurrentRepeat: 1, TotalRepeats: cfg.UserRepeats}, a

	case UserRecording:
		e, ok := ev.(RecordingCompleteEvent)
		if !ok || e.Recording == nil {
			break
		}
		if cfg.AssessmentEnabled {
			a.attempt = cur
			return Assessment{Segment: a.segment, Recording: e.Recording}, a
		}
		return nextAttempt(cur.CurrentRepeat, cfg), a

	case Assessment:
		if e, ok := ev.(AssessmentCompleteEvent); ok {
			return Feedback{
				Result:        e.Result,
				CurrentRepeat: a.attempt.CurrentRepeat,
				TotalRepeats:  a.attempt.TotalRepeats,
			}, a
		}

	case Feedback:
		if _, ok := ev.(FeedbackCompleteEvent); ok {
			return nextAttempt(cur.CurrentRepeat, cfg), a
		}

	case PausedForNavigation:
		switch ev.(type) {
		case NavigationEndedEvent, StartEvent:
			a.beforePause = nil
			return cur.Saved, a
		}
	}
	return s, a
}

// nextAttempt follows attempt r: another UserRecording while the live
// user repeat count allows it, otherwise back to Listening.
func nextAttempt(r int, cfg Config) State {
	if total := cfg.UserRepeats; r < total {
		return UserRecording{CurrentRepeat: r + 1, TotalRepeats: total}
	}
	return Listening{}
}
