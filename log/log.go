package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog      zerolog.Logger
	diagFile     *os.File
	practiceFile *os.File
	logMu        sync.Mutex
	logReady     bool
	pid          int
	dir          string
)

// Metrics describes one transcription request made while assessing.
type Metrics struct {
	AudioLengthS float64
	EncodeTimeMs float64
	DNSTimeMs    float64
	TLSTimeMs    float64
	TTFBMs       float64
	TotalTimeMs  float64
	ConnReused   bool
	TLSProtocol  string
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: SHADOW_LOG_PATH environment variable
	if envPath := os.Getenv("SHADOW_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error

	diagPath := filepath.Join(dir, "diagnostics_log.txt")
	diagFile, err = os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	practicePath := filepath.Join(dir, "practice_log.txt")
	practiceFile, err = os.OpenFile(practicePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		diagFile.Close()
		return err
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if practiceFile != nil {
		practiceFile.Close()
		practiceFile = nil
	}
	logReady = false
}

func ready() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logReady
}

func Info(msg string) {
	if ready() {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if ready() {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if ready() {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if ready() {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if ready() {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if ready() {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Transcription(m Metrics, provider, purpose string) {
	if !ready() {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	ev := diagLog.Info().
		Str("provider", provider).
		Str("purpose", purpose).
		Str("conn", connStatus)
	if m.TLSProtocol != "" {
		ev = ev.Str("tls_proto", m.TLSProtocol)
	}
	ev.Float64("audio_s", m.AudioLengthS).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalTimeMs).
		Msg("transcription")
}

// AttemptText appends a scored attempt to practice_log.txt.
func AttemptText(reference, attempt string, overall float64) {
	practiceLine(fmt.Sprintf("%.1f", overall), reference, attempt)
}

// UnscoredAttempt appends an attempt that was recorded but not assessed.
func UnscoredAttempt(length time.Duration) {
	practiceLine("-", "", fmt.Sprintf("(unscored, %.1fs)", length.Seconds()))
}

// practice_log.txt has one tab-separated line per completed attempt:
// time, pid, score, reference text, attempt text.
func practiceLine(score, reference, attempt string) {
	if !ready() {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\t%s\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, score, reference, attempt)
	practiceFile.WriteString(line)
}

func Transition(from, to, event string) {
	if !ready() {
		return
	}
	diagLog.Debug().
		Str("from", from).
		Str("to", to).
		Str("event", event).
		Msg("transition")
}

func Assessment(overall, pronunciation, fluency, completeness float64, elapsed time.Duration) {
	if !ready() {
		return
	}
	diagLog.Info().
		Float64("overall", overall).
		Float64("pronunciation", pronunciation).
		Float64("fluency", fluency).
		Float64("completeness", completeness).
		Float64("elapsed_ms", float64(elapsed.Microseconds())/1000).
		Msg("assessment")
}

func SessionStart(id, source string, playbackRepeats, userRepeats int, assessment, busMode bool) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("source", source).
		Int("playback_repeats", playbackRepeats).
		Int("user_repeats", userRepeats).
		Bool("assessment", assessment).
		Bool("bus_mode", busMode).
		Msg("session_start")
}

func SessionEnd(id string, segments, attempts int) {
	if !ready() {
		return
	}
	diagLog.Info().
		Str("session", id).
		Int("segments", segments).
		Int("attempts", attempts).
		Msg("session_end")
}
