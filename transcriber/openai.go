package transcriber

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"shadowmaster/pcm"
)

// OpenAI transcribes through the official API shape using go-openai, so it
// also works against compatible self-hosted servers via NewOpenAIWithBaseURL.
type OpenAI struct {
	baseTranscriber
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey string) *OpenAI {
	return NewOpenAIWithBaseURL(apiKey, "")
}

// NewOpenAIWithBaseURL uses baseURL instead of the public API when set.
func NewOpenAIWithBaseURL(apiKey, baseURL string) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = newHTTPClient()
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.Whisper1,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, clip *pcm.Clip) (*Result, error) {
	audioData, encodeTime, err := encodeUpload(clip)
	if err != nil {
		return nil, err
	}

	metrics := &NetworkMetrics{}
	resp, err := o.client.CreateTranscription(withMetrics(ctx, metrics), openai.AudioRequest{
		Model:       o.model,
		FilePath:    "audio.flac",
		Reader:      bytes.NewReader(audioData),
		Language:    o.lang,
		Format:      openai.AudioResponseFormatVerboseJSON,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	result := &Result{
		Text:       resp.Text,
		Language:   resp.Language,
		Duration:   resp.Duration,
		Metrics:    metrics,
		EncodeTime: encodeTime,
		RateLimit: firstNonEmpty(resp.Header(), "x-ratelimit-remaining-requests") + "/" +
			firstNonEmpty(resp.Header(), "x-ratelimit-limit-requests"),
	}
	var logProbSum float64
	for _, seg := range resp.Segments {
		result.NoSpeechProb = max(result.NoSpeechProb, seg.NoSpeechProb)
		logProbSum += seg.AvgLogprob
		result.Segments = append(result.Segments, Segment{
			Text:         seg.Text,
			NoSpeechProb: seg.NoSpeechProb,
			AvgLogProb:   seg.AvgLogprob,
			Start:        seg.Start,
			End:          seg.End,
		})
	}
	if n := len(resp.Segments); n > 0 {
		result.AvgLogProb = logProbSum / float64(n)
	}
	return result, nil
}
