// Package session implements the practice session state machine: the
// decision logic that says what a shadowing session does next given its
// current phase, an incoming event and the live configuration.
//
// The machine performs no I/O. A coordinator watches the states it emits and
// drives playback, recording and assessment accordingly.
package session

import (
	"fmt"

	"shadowmaster/pcm"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseSegmentDetected
	PhasePlayback
	PhaseUserRecording
	PhaseAssessment
	PhaseFeedback
	PhasePausedForNavigation
)

var phaseNames = [...]string{
	PhaseIdle:                "idle",
	PhaseListening:           "listening",
	PhaseSegmentDetected:     "segment_detected",
	PhasePlayback:            "playback",
	PhaseUserRecording:       "user_recording",
	PhaseAssessment:          "assessment",
	PhaseFeedback:            "feedback",
	PhasePausedForNavigation: "paused_for_navigation",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return Phase(p), nil
		}
	}
	return 0, fmt.Errorf("unknown phase %q", name)
}

// AssessmentResult holds the scores for one recorded attempt, each in
// [0, 100]. The machine carries it through Feedback without looking at it.
type AssessmentResult struct {
	Overall       float64 `json:"overall"`
	Pronunciation float64 `json:"pronunciation"`
	Fluency       float64 `json:"fluency"`
	Completeness  float64 `json:"completeness"`
}

// State is one of Idle, Listening, SegmentDetected, Playback, UserRecording,
// Assessment, Feedback or PausedForNavigation. The set is closed.
//
// All states are comparable with ==; segments and recordings compare by
// identity.
type State interface {
	Phase() Phase
	isState()
}

type Idle struct{}

type Listening struct{}

type SegmentDetected struct {
	Segment *pcm.Clip
}

type Playback struct {
	Segment       *pcm.Clip
	CurrentRepeat int
	TotalRepeats  int
}

// UserRecording deliberately does not carry the segment; the machine keeps
// it privately until Assessment needs it.
type UserRecording struct {
	CurrentRepeat int
	TotalRepeats  int
}

type Assessment struct {
	Segment   *pcm.Clip
	Recording *pcm.Clip
}

type Feedback struct {
	Result        AssessmentResult
	CurrentRepeat int
	TotalRepeats  int
}

// PausedForNavigation holds the state that was active when the navigation
// prompt started. Saved is never Idle or PausedForNavigation.
type PausedForNavigation struct {
	Saved State
}

func (Idle) Phase() Phase                { return PhaseIdle }
func (Listening) Phase() Phase           { return PhaseListening }
func (SegmentDetected) Phase() Phase     { return PhaseSegmentDetected }
func (Playback) Phase() Phase            { return PhasePlayback }
func (UserRecording) Phase() Phase       { return PhaseUserRecording }
func (Assessment) Phase() Phase          { return PhaseAssessment }
func (Feedback) Phase() Phase            { return PhaseFeedback }
func (PausedForNavigation) Phase() Phase { return PhasePausedForNavigation }

func (Idle) isState()                {}
func (Listening) isState()           {}
func (SegmentDetected) isState()     {}
func (Playback) isState()            {}
func (UserRecording) isState()       {}
func (Assessment) isState()          {}
func (Feedback) isState()            {}
func (PausedForNavigation) isState() {}

func (Idle) String() string      { return "Idle" }
func (Listening) String() string { return "Listening" }

func (s SegmentDetected) String() string {
	return fmt.Sprintf("SegmentDetected{%s}", s.Segment.Duration())
}

func (s Playback) String() string {
	return fmt.Sprintf("Playback{%s, %d/%d}", s.Segment.Duration(), s.CurrentRepeat, s.TotalRepeats)
}

func (s UserRecording) String() string {
	return fmt.Sprintf("UserRecording{%d/%d}", s.CurrentRepeat, s.TotalRepeats)
}

func (s Assessment) String() string {
	return fmt.Sprintf("Assessment{%s, %s}", s.Segment.Duration(), s.Recording.Duration())
}

func (s Feedback) String() string {
	return fmt.Sprintf("Feedback{%.0f, %d/%d}", s.Result.Overall, s.CurrentRepeat, s.TotalRepeats)
}

func (s PausedForNavigation) String() string {
	return fmt.Sprintf("PausedForNavigation{%v}", s.Saved)
}
