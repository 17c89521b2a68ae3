package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"shadowmaster/pcm"
)

const groqURL = "https://api.groq.com/openai/v1/audio/transcriptions"

type Groq struct {
	baseTranscriber
	client *http.Client
	apiURL string
	apiKey string
	model  string
}

func NewGroq(apiKey string) *Groq {
	return NewGroqWithURL(apiKey, groqURL)
}

// NewGroqWithURL points the client at a different endpoint, such as a
// local proxy or a test server.
func NewGroqWithURL(apiKey, apiURL string) *Groq {
	return &Groq{
		client: newHTTPClient(),
		apiURL: apiURL,
		apiKey: apiKey,
		model:  "whisper-large-v3-turbo",
	}
}

func (g *Groq) Name() string { return "groq" }

type groqResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		NoSpeechProb float64 `json:"no_speech_prob"`
		AvgLogProb   float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func (g *Groq) Transcribe(ctx context.Context, clip *pcm.Clip) (*Result, error) {
	audioData, encodeTime, err := encodeUpload(clip)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.flac")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audioData); err != nil {
		return nil, err
	}
	writer.WriteField("model", g.model)
	writer.WriteField("response_format", "verbose_json")
	writer.WriteField("temperature", "0")
	if g.lang != "" {
		writer.WriteField("language", g.lang)
	}
	writer.Close()

	metrics := &NetworkMetrics{}
	req, err := http.NewRequestWithContext(withMetrics(ctx, metrics), http.MethodPost, g.apiURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("groq response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("groq API error %d: %s", resp.StatusCode, string(respBody))
	}

	var gResp groqResponse
	if err := json.Unmarshal(respBody, &gResp); err != nil {
		return nil, fmt.Errorf("groq response parse error: %w", err)
	}

	result := &Result{
		Text:       gResp.Text,
		Language:   gResp.Language,
		Metrics:    metrics,
		Duration:   gResp.Duration,
		EncodeTime: encodeTime,
		RateLimit: firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests") + "/" +
			firstNonEmpty(resp.Header, "x-ratelimit-limit-requests"),
	}
	var logProbSum float64
	for _, seg := range gResp.Segments {
		result.NoSpeechProb = max(result.NoSpeechProb, seg.NoSpeechProb)
		logProbSum += seg.AvgLogProb
		result.Segments = append(result.Segments, Segment{
			Text:         seg.Text,
			NoSpeechProb: seg.NoSpeechProb,
			AvgLogProb:   seg.AvgLogProb,
			Start:        seg.Start,
			End:          seg.End,
		})
	}
	if n := len(gResp.Segments); n > 0 {
		result.AvgLogProb = logProbSum / float64(n)
	}
	return result, nil
}
