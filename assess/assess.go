// Package assess scores a learner's recorded attempt against the segment
// they were imitating.
package assess

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"shadowmaster/log"
	"shadowmaster/pcm"
	"shadowmaster/session"
	"shadowmaster/transcriber"
)

type Assessor interface {
	Assess(ctx context.Context, segment, recording *pcm.Clip) (session.AssessmentResult, error)
}

var (
	ErrEmptyRecording = errors.New("recording is empty")
	ErrNoReference    = errors.New("segment has no recognisable words")
)

// Transcript scores attempts by transcribing both the segment and the
// attempt and comparing the words. The segment's transcript is computed
// once and reused for every attempt at the same segment.
type Transcript struct {
	tr transcriber.Transcriber

	mu       sync.Mutex
	refClip  *pcm.Clip
	refWords []string
}

func NewTranscript(tr transcriber.Transcriber) *Transcript {
	return &Transcript{tr: tr}
}

func (a *Transcript) Assess(ctx context.Context, segment, recording *pcm.Clip) (session.AssessmentResult, error) {
	if recording.Len() == 0 {
		return session.AssessmentResult{}, ErrEmptyRecording
	}
	ref, err := a.reference(ctx, segment)
	if err != nil {
		return session.AssessmentResult{}, err
	}
	hyp, err := a.tr.Transcribe(ctx, recording)
	if err != nil {
		return session.AssessmentResult{}, fmt.Errorf("transcribing attempt: %w", err)
	}
	logTranscription(a.tr.Name(), "attempt", recording, hyp)
	res := Score(ref, Words(hyp.Text), segment.Duration().Seconds(), recording.Duration().Seconds())
	log.AttemptText(strings.Join(ref, " "), hyp.Text, res.Overall)
	return res, nil
}

func (a *Transcript) reference(ctx context.Context, segment *pcm.Clip) ([]string, error) {
	a.mu.Lock()
	if segment == a.refClip && a.refWords != nil {
		words := a.refWords
		a.mu.Unlock()
		return words, nil
	}
	a.mu.Unlock()

	res, err := a.tr.Transcribe(ctx, segment)
	if err != nil {
		return nil, fmt.Errorf("transcribing segment: %w", err)
	}
	logTranscription(a.tr.Name(), "segment", segment, res)
	words := Words(res.Text)
	if len(words) == 0 {
		return nil, ErrNoReference
	}

	a.mu.Lock()
	a.refClip, a.refWords = segment, words
	a.mu.Unlock()
	return words, nil
}

func logTranscription(provider, purpose string, clip *pcm.Clip, res *transcriber.Result) {
	m := log.Metrics{
		AudioLengthS: clip.Duration().Seconds(),
		EncodeTimeMs: ms(res.EncodeTime),
	}
	if nm := res.Metrics; nm != nil {
		m.DNSTimeMs = ms(nm.DNS)
		m.TLSTimeMs = ms(nm.TLS)
		m.TTFBMs = ms(nm.TTFB)
		m.TotalTimeMs = ms(nm.Total)
		m.ConnReused = nm.ConnReused
		m.TLSProtocol = nm.TLSProtocol
	}
	log.Transcription(m, provider, purpose)
}

func ms(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }

// Words lower-cases text and splits it into words, dropping punctuation.
// Apostrophes inside words are kept.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.Trim(f, "'"); f != "" {
			out = append(out, f)
		}
	}
	return out
}

const (
	// Attempts within this tempo band of the original count as fluent.
	fluentMinRatio = 0.8
	fluentMaxRatio = 1.25

	weightPronunciation = 0.4
	weightCompleteness  = 0.3
	weightFluency       = 0.3
)

// Score compares reference and hypothesis words and the two durations in
// seconds.
//
// Completeness is the share of reference words the learner produced, in
// order. Pronunciation is the F1 of the word alignment, so extra words
// cost as well. Fluency is 100 while the attempt's length is within
// [0.8, 1.25] of the original and falls off proportionally outside it.
func Score(ref, hyp []string, refSecs, hypSecs float64) session.AssessmentResult {
	if len(ref) == 0 {
		return session.AssessmentResult{}
	}
	matched := float64(lcs(ref, hyp))

	completeness := 100 * matched / float64(len(ref))
	pronunciation := 200 * matched / float64(len(ref)+len(hyp))

	var fluency float64
	if len(hyp) > 0 && refSecs > 0 && hypSecs > 0 {
		ratio := hypSecs / refSecs
		switch {
		case ratio < fluentMinRatio:
			fluency = 100 * ratio / fluentMinRatio
		case ratio > fluentMaxRatio:
			fluency = 100 * fluentMaxRatio / ratio
		default:
			fluency = 100
		}
	}

	overall := weightPronunciation*pronunciation + weightCompleteness*completeness + weightFluency*fluency
	return session.AssessmentResult{
		Overall:       round1(overall),
		Pronunciation: round1(pronunciation),
		Fluency:       round1(fluency),
		Completeness:  round1(completeness),
	}
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// lcs is the length of the longest common subsequence of a and b.
func lcs(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
