// Package transcriber turns recorded clips into text using hosted speech
// recognition APIs.
package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"shadowmaster/encoder"
	"shadowmaster/pcm"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Segment struct {
	Text         string
	NoSpeechProb float64
	AvgLogProb   float64
	Start        float64
	End          float64
}

type Result struct {
	Text         string
	Language     string
	Metrics      *NetworkMetrics
	RateLimit    string
	NoSpeechProb float64
	AvgLogProb   float64
	Duration     float64
	Segments     []Segment
	EncodeTime   time.Duration
}

type Transcriber interface {
	Name() string
	SetLanguage(lang string)
	GetLanguage() string
	Transcribe(ctx context.Context, clip *pcm.Clip) (*Result, error)
}

type baseTranscriber struct {
	lang string
}

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

// FakeText is what the "fake" provider hears in every clip.
const FakeText = "the quick brown fox jumps over the lazy dog"

// Keys holds the API credentials New can choose from.
type Keys struct {
	Groq   string
	OpenAI string
}

// New returns the transcriber for provider ("groq", "openai" or "fake").
// An empty provider picks the first service with a key, Groq first.
func New(provider string, keys Keys) (Transcriber, error) {
	switch provider {
	case "groq":
		if keys.Groq == "" {
			return nil, fmt.Errorf("groq transcriber needs GROQ_API_KEY")
		}
		return NewGroq(keys.Groq), nil
	case "openai":
		if keys.OpenAI == "" {
			return nil, fmt.Errorf("openai transcriber needs OPENAI_API_KEY")
		}
		return NewOpenAI(keys.OpenAI), nil
	case "fake":
		return NewFake(FakeText, nil), nil
	case "":
		if keys.Groq != "" {
			return NewGroq(keys.Groq), nil
		}
		if keys.OpenAI != "" {
			return NewOpenAI(keys.OpenAI), nil
		}
		return nil, fmt.Errorf("set GROQ_API_KEY or OPENAI_API_KEY environment variable")
	}
	return nil, fmt.Errorf("unknown transcriber %q", provider)
}

// encodeUpload compresses clip to FLAC for upload.
func encodeUpload(clip *pcm.Clip) ([]byte, time.Duration, error) {
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, 0, err
	}
	data, err := encoder.EncodeClip(enc, clip)
	if err != nil {
		return nil, 0, err
	}
	return data, enc.EncodeTime(), nil
}
