package transcriber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shadowmaster/pcm"
)

func TestNetworkMetricsSum(t *testing.T) {
	m := &NetworkMetrics{
		ConnWait:   10 * time.Millisecond,
		DNS:        20 * time.Millisecond,
		TCP:        30 * time.Millisecond,
		TLS:        40 * time.Millisecond,
		ReqHeaders: 5 * time.Millisecond,
		ReqBody:    15 * time.Millisecond,
		TTFB:       50 * time.Millisecond,
		Download:   25 * time.Millisecond,
	}
	got := m.Sum()
	want := 195 * time.Millisecond
	if got != want {
		t.Errorf("Sum() = %v, want %v", got, want)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	h := http.Header{}
	h.Set("X-Rate-Limit", "100")

	if got := firstNonEmpty(h, "X-Missing", "X-Rate-Limit"); got != "100" {
		t.Errorf("got %q, want %q", got, "100")
	}
	if got := firstNonEmpty(h, "X-A", "X-B"); got != "?" {
		t.Errorf("got %q, want %q", got, "?")
	}
}

func TestNewProviderSelection(t *testing.T) {
	for _, tt := range []struct {
		provider string
		keys     Keys
		want     string
		wantErr  bool
	}{
		{"", Keys{Groq: "g", OpenAI: "o"}, "groq", false},
		{"", Keys{OpenAI: "o"}, "openai", false},
		{"", Keys{}, "", true},
		{"openai", Keys{Groq: "g"}, "", true},
		{"fake", Keys{}, "fake", false},
		{"deepgram", Keys{Groq: "g"}, "", true},
	} {
		t.Run(tt.provider+"/"+tt.want, func(t *testing.T) {
			tr, err := New(tt.provider, tt.keys)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", tr.Name())
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if tr.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", tr.Name(), tt.want)
			}
		})
	}
}

func testClip() *pcm.Clip {
	return pcm.New(make([]int16, pcm.SampleRate/2), pcm.SampleRate)
}

func TestGroqTranscribe(t *testing.T) {
	var gotModel, gotLang, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		f, hdr, err := r.FormFile("file")
		if err == nil {
			data, _ := io.ReadAll(f)
			gotFile = hdr.Filename + ":" + string(data[:4])
		}
		w.Header().Set("x-ratelimit-remaining-requests", "99")
		w.Header().Set("x-ratelimit-limit-requests", "100")
		io.WriteString(w, `{"text":" bonjour tout le monde","language":"french","duration":0.5,
			"segments":[{"text":"bonjour","no_speech_prob":0.1,"avg_logprob":-0.2},
			            {"text":"tout le monde","no_speech_prob":0.3,"avg_logprob":-0.4}]}`)
	}))
	defer srv.Close()

	g := NewGroqWithURL("secret", srv.URL)
	g.SetLanguage("fr")
	res, err := g.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotModel != "whisper-large-v3-turbo" || gotLang != "fr" {
		t.Errorf("form fields model=%q language=%q", gotModel, gotLang)
	}
	if gotFile != "audio.flac:fLaC" {
		t.Errorf("uploaded file = %q", gotFile)
	}
	if res.Text != " bonjour tout le monde" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.NoSpeechProb != 0.3 {
		t.Errorf("NoSpeechProb = %v, want max of segments", res.NoSpeechProb)
	}
	if d := res.AvgLogProb - (-0.3); d > 1e-9 || d < -1e-9 {
		t.Errorf("AvgLogProb = %v, want -0.3", res.AvgLogProb)
	}
	if res.RateLimit != "99/100" {
		t.Errorf("RateLimit = %q", res.RateLimit)
	}
	if res.Metrics == nil || res.Metrics.Total <= 0 {
		t.Errorf("expected network metrics, got %+v", res.Metrics)
	}
}

func TestGroqAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGroqWithURL("k", srv.URL).Transcribe(context.Background(), testClip())
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestOpenAITranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("response_format = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"task":"transcribe","language":"english","duration":0.5,"text":"hello there",
			"segments":[{"id":0,"text":"hello there","avg_logprob":-0.5,"no_speech_prob":0.05}]}`)
	}))
	defer srv.Close()

	o := NewOpenAIWithBaseURL("k", srv.URL+"/v1")
	res, err := o.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello there" || res.Language != "english" {
		t.Errorf("got %+v", res)
	}
	if res.AvgLogProb != -0.5 || len(res.Segments) != 1 {
		t.Errorf("segments not mapped: %+v", res)
	}
	if res.Metrics == nil || res.Metrics.Total <= 0 {
		t.Errorf("expected network metrics, got %+v", res.Metrics)
	}
}

func TestTracingTransportWithoutMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	resp, err := newHTTPClient().Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if _, ok := resp.Body.(*timedBody); ok {
		t.Error("untraced request should keep the plain body")
	}
}

func TestFakeTranscriber(t *testing.T) {
	ref := testClip()
	f := NewFake("default", nil)
	f.Set(ref, "reference")

	res, err := f.Transcribe(context.Background(), ref)
	if err != nil || res.Text != "reference" {
		t.Fatalf("got %v, %v", res, err)
	}
	res, _ = f.Transcribe(context.Background(), testClip())
	if res.Text != "default" {
		t.Errorf("Text = %q, want default", res.Text)
	}
	if f.Calls() != 2 {
		t.Errorf("Calls() = %d", f.Calls())
	}

	boom := errors.New("boom")
	if _, err := NewFake("", boom).Transcribe(context.Background(), ref); !errors.Is(err, boom) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}
