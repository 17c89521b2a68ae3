package assess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowmaster/pcm"
	"shadowmaster/session"
	"shadowmaster/transcriber"
)

func clip(d time.Duration) *pcm.Clip { return pcm.Silence(d, pcm.SampleRate) }

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"c'est", "la", "vie", "42"}, Words(" C'est la vie... 42! "))
	assert.Equal(t, []string{"rock", "n", "roll"}, Words("'rock 'n' roll'"))
	assert.Empty(t, Words("¿¡...!?"))
}

func TestLCS(t *testing.T) {
	assert.Equal(t, 3, lcs([]string{"a", "b", "c", "d"}, []string{"a", "x", "c", "d"}))
	assert.Equal(t, 0, lcs(nil, []string{"a"}))
	assert.Equal(t, 2, lcs([]string{"a", "b"}, []string{"b", "a", "b"}))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		ref, hyp string
		refS     float64
		hypS     float64
		want     session.AssessmentResult
	}{
		{
			name: "perfect",
			ref:  "the quick brown fox", hyp: "The quick brown fox.",
			refS: 2, hypS: 2.1,
			want: session.AssessmentResult{Overall: 100, Pronunciation: 100, Fluency: 100, Completeness: 100},
		},
		{
			name: "missing word",
			ref:  "the quick brown fox", hyp: "the brown fox",
			refS: 2, hypS: 2,
			// completeness 75, pronunciation 2*3/7 = 85.7
			want: session.AssessmentResult{Overall: 86.8, Pronunciation: 85.7, Fluency: 100, Completeness: 75},
		},
		{
			name: "too slow",
			ref:  "bonjour", hyp: "bonjour",
			refS: 1, hypS: 2.5,
			want: session.AssessmentResult{Overall: 85, Pronunciation: 100, Fluency: 50, Completeness: 100},
		},
		{
			name: "silent attempt",
			ref:  "hola amigo", hyp: "",
			refS: 1, hypS: 1,
			want: session.AssessmentResult{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(Words(tt.ref), Words(tt.hyp), tt.refS, tt.hypS)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranscriptAssessCachesReference(t *testing.T) {
	seg, rec1, rec2 := clip(2*time.Second), clip(2*time.Second), clip(time.Second)
	tr := transcriber.NewFake("", nil)
	tr.Set(seg, "where is the station")
	tr.Set(rec1, "where is the station")
	tr.Set(rec2, "where station")

	a := NewTranscript(tr)
	r1, err := a.Assess(context.Background(), seg, rec1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, r1.Overall)

	r2, err := a.Assess(context.Background(), seg, rec2)
	require.NoError(t, err)
	assert.Equal(t, 50.0, r2.Completeness)
	assert.Less(t, r2.Overall, r1.Overall)

	// One reference transcription plus two attempts.
	assert.Equal(t, 3, tr.Calls())
	assert.Equal(t, []string{"where", "is", "the", "station"}, a.refWords, "the segment transcript is cached")
}

func TestTranscriptAssessErrors(t *testing.T) {
	seg := clip(time.Second)

	_, err := NewTranscript(transcriber.NewFake("hi", nil)).Assess(context.Background(), seg, nil)
	assert.ErrorIs(t, err, ErrEmptyRecording)

	_, err = NewTranscript(transcriber.NewFake("", nil)).Assess(context.Background(), seg, clip(time.Second))
	assert.ErrorIs(t, err, ErrNoReference)

	boom := errors.New("network down")
	_, err = NewTranscript(transcriber.NewFake("", boom)).Assess(context.Background(), seg, clip(time.Second))
	assert.ErrorIs(t, err, boom)
}

func TestFake(t *testing.T) {
	f := &Fake{Result: session.AssessmentResult{Overall: 60}, Delay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Assess(ctx, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)

	f.Delay = 0
	r, err := f.Assess(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 60.0, r.Overall)
	assert.Equal(t, 2, f.Calls())
}
