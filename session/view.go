package session

// View is a flat, serialisable description of a State for UIs and the HTTP
// API. Audio is reduced to its duration.
type View struct {
	Phase         string            `json:"phase"`
	CurrentRepeat int               `json:"current_repeat,omitempty"`
	TotalRepeats  int               `json:"total_repeats,omitempty"`
	SegmentMS     int64             `json:"segment_ms,omitempty"`
	RecordingMS   int64             `json:"recording_ms,omitempty"`
	Result        *AssessmentResult `json:"result,omitempty"`
	Saved         *View             `json:"saved,omitempty"`
}

func Describe(s State) View {
	if s == nil {
		s = Idle{}
	}
	v := View{Phase: s.Phase().String()}
	switch st := s.(type) {
	case SegmentDetected:
		v.SegmentMS = st.Segment.Duration().Milliseconds()
	case Playback:
		v.SegmentMS = st.Segment.Duration().Milliseconds()
		v.CurrentRepeat, v.TotalRepeats = st.CurrentRepeat, st.TotalRepeats
	case UserRecording:
		v.CurrentRepeat, v.TotalRepeats = st.CurrentRepeat, st.TotalRepeats
	case Assessment:
		v.SegmentMS = st.Segment.Duration().Milliseconds()
		v.RecordingMS = st.Recording.Duration().Milliseconds()
	case Feedback:
		r := st.Result
		v.Result = &r
		v.CurrentRepeat, v.TotalRepeats = st.CurrentRepeat, st.TotalRepeats
	case PausedForNavigation:
		saved := Describe(st.Saved)
		v.Saved = &saved
	}
	return v
}
