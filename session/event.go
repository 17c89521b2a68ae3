package session

import (
	"errors"
	"fmt"
	"strings"

	"shadowmaster/pcm"
)

type EventKind int

const (
	EventStart EventKind = iota
	EventStop
	EventSkip
	EventSegmentDetected
	EventPlaybackComplete
	EventRecordingComplete
	EventAssessmentComplete
	EventFeedbackComplete
	EventNavigationStarted
	EventNavigationEnded
)

var eventNames = [...]string{
	EventStart:              "start",
	EventStop:               "stop",
	EventSkip:               "skip",
	EventSegmentDetected:    "segment_detected",
	EventPlaybackComplete:   "playback_complete",
	EventRecordingComplete:  "recording_complete",
	EventAssessmentComplete: "assessment_complete",
	EventFeedbackComplete:   "feedback_complete",
	EventNavigationStarted:  "navigation_started",
	EventNavigationEnded:    "navigation_ended",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(k))
	}
	return eventNames[k]
}

// Event is one of the ten inputs the machine understands. The set is closed.
type Event interface {
	Kind() EventKind
	isEvent()
}

type (
	StartEvent             struct{}
	StopEvent              struct{}
	SkipEvent              struct{}
	PlaybackCompleteEvent  struct{}
	FeedbackCompleteEvent  struct{}
	NavigationStartedEvent struct{}
	NavigationEndedEvent   struct{}
)

type SegmentDetectedEvent struct {
	Segment *pcm.Clip
}

type RecordingCompleteEvent struct {
	Recording *pcm.Clip
}

type AssessmentCompleteEvent struct {
	Result AssessmentResult
}

func (StartEvent) Kind() EventKind              { return EventStart }
func (StopEvent) Kind() EventKind               { return EventStop }
func (SkipEvent) Kind() EventKind               { return EventSkip }
func (SegmentDetectedEvent) Kind() EventKind    { return EventSegmentDetected }
func (PlaybackCompleteEvent) Kind() EventKind   { return EventPlaybackComplete }
func (RecordingCompleteEvent) Kind() EventKind  { return EventRecordingComplete }
func (AssessmentCompleteEvent) Kind() EventKind { return EventAssessmentComplete }
func (FeedbackCompleteEvent) Kind() EventKind   { return EventFeedbackComplete }
func (NavigationStartedEvent) Kind() EventKind  { return EventNavigationStarted }
func (NavigationEndedEvent) Kind() EventKind    { return EventNavigationEnded }

func (StartEvent) isEvent()              {}
func (StopEvent) isEvent()               {}
func (SkipEvent) isEvent()               {}
func (SegmentDetectedEvent) isEvent()    {}
func (PlaybackCompleteEvent) isEvent()   {}
func (RecordingCompleteEvent) isEvent()  {}
func (AssessmentCompleteEvent) isEvent() {}
func (FeedbackCompleteEvent) isEvent()   {}
func (NavigationStartedEvent) isEvent()  {}
func (NavigationEndedEvent) isEvent()    {}

var ErrUnknownEvent = errors.New("unknown control event")

// ParseControlEvent maps the names a control surface sends (start, stop,
// skip, navigation_started, navigation_ended) to events. Matching ignores
// case and accepts '-' in place of '_'. Events that carry audio or scores
// cannot be produced this way.
func ParseControlEvent(name string) (Event, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_") {
	case "start":
		return StartEvent{}, nil
	case "stop":
		return StopEvent{}, nil
	case "skip":
		return SkipEvent{}, nil
	case "navigation_started":
		return NavigationStartedEvent{}, nil
	case "navigation_ended":
		return NavigationEndedEvent{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
}
