// Package config resolves shadowmaster settings from defaults, an optional
// YAML file, the environment and command-line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"shadowmaster/segmenter"
	"shadowmaster/session"
	"shadowmaster/tempo"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	PlaybackRepeats    int     `yaml:"playback_repeats"`
	UserRepeats        int     `yaml:"user_repeats"`
	Assessment         bool    `yaml:"assessment"`
	BusMode            bool    `yaml:"bus_mode"`
	PauseForNavigation bool    `yaml:"pause_for_navigation"`
	Preset             string  `yaml:"preset"`
	Language           string  `yaml:"language"`
	Assessor           string  `yaml:"assessor"`
	ServerAddr         string  `yaml:"server_addr"`
	BeepVolume         float64 `yaml:"beep_volume"`
	// Speed slows (below 1) or speeds up lesson audio before it is split.
	Speed float64 `yaml:"speed"`

	FeedbackHold time.Duration `yaml:"feedback_hold"`
	RecordMargin time.Duration `yaml:"record_margin"`

	GroqAPIKey   string `yaml:"-"`
	OpenAIAPIKey string `yaml:"-"`

	// Path is the YAML file that was read, if any.
	Path string `yaml:"-"`
}

func Default() Config {
	return Config{
		PlaybackRepeats:    2,
		UserRepeats:        1,
		PauseForNavigation: true,
		Preset:             segmenter.DefaultPreset,
		ServerAddr:         "127.0.0.1:8765",
		BeepVolume:         0.8,
		Speed:              1,
		FeedbackHold:       2 * time.Second,
		RecordMargin:       time.Second,
	}
}

// Load reads .env (if present), then the YAML file at path, SHADOW_CONFIG
// or the per-user default, then environment overrides. An explicitly
// named file must exist; the per-user default is optional.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := true
	if path == "" {
		path = strings.TrimSpace(os.Getenv("SHADOW_CONFIG"))
	}
	if path == "" {
		explicit = false
		path = defaultPath()
	}
	if path != "" {
		if err := cfg.readFile(path, explicit); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "shadowmaster", "config.yaml")
}

func (c *Config) readFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	c.Path = path
	return nil
}

func (c *Config) applyEnv() {
	c.PlaybackRepeats = envOrDefaultInt("SHADOW_PLAYBACK_REPEATS", c.PlaybackRepeats)
	c.UserRepeats = envOrDefaultInt("SHADOW_USER_REPEATS", c.UserRepeats)
	c.Assessment = envOrDefaultBool("SHADOW_ASSESSMENT", c.Assessment)
	c.BusMode = envOrDefaultBool("SHADOW_BUS_MODE", c.BusMode)
	c.PauseForNavigation = envOrDefaultBool("SHADOW_PAUSE_FOR_NAVIGATION", c.PauseForNavigation)
	c.Preset = envOrDefault("SHADOW_PRESET", c.Preset)
	c.Language = envOrDefault("SHADOW_LANG", c.Language)
	c.Assessor = envOrDefault("SHADOW_ASSESSOR", c.Assessor)
	c.ServerAddr = envOrDefault("SHADOW_SERVER_ADDR", c.ServerAddr)
	c.Speed = envOrDefaultFloat("SHADOW_SPEED", c.Speed)
	c.GroqAPIKey = envOrDefault("GROQ_API_KEY", c.GroqAPIKey)
	c.OpenAIAPIKey = envOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
}

// Set assigns one setting by its YAML name. It is how flags and the
// headless SET command override loaded values.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	var err error
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "playback_repeats":
		c.PlaybackRepeats, err = strconv.Atoi(value)
	case "user_repeats":
		c.UserRepeats, err = strconv.Atoi(value)
	case "assessment", "assess":
		c.Assessment, err = strconv.ParseBool(value)
	case "bus_mode", "bus":
		c.BusMode, err = strconv.ParseBool(value)
	case "pause_for_navigation":
		c.PauseForNavigation, err = strconv.ParseBool(value)
	case "preset":
		c.Preset = value
	case "language", "lang":
		c.Language = value
	case "assessor":
		c.Assessor = value
	case "server_addr", "addr":
		c.ServerAddr = value
	case "beep_volume":
		c.BeepVolume, err = strconv.ParseFloat(value, 64)
	case "speed":
		c.Speed, err = strconv.ParseFloat(value, 64)
	case "feedback_hold":
		c.FeedbackHold, err = time.ParseDuration(value)
	case "record_margin":
		c.RecordMargin, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
	}
	if err != nil {
		return fmt.Errorf("%w: %s=%q: %v", ErrInvalid, key, value, err)
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string
	if c.PlaybackRepeats < 1 {
		problems = append(problems, "playback_repeats must be at least 1")
	}
	if c.UserRepeats < 1 {
		problems = append(problems, "user_repeats must be at least 1")
	}
	if _, err := segmenter.LookupPreset(c.Preset); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Assessor {
	case "", "groq", "openai", "fake":
	default:
		problems = append(problems, fmt.Sprintf("unknown assessor %q", c.Assessor))
	}
	if c.BeepVolume < 0 || c.BeepVolume > 1 {
		problems = append(problems, "beep_volume must be within [0, 1]")
	}
	if err := tempo.Validate(c.Speed); err != nil {
		problems = append(problems, err.Error())
	}
	if c.FeedbackHold < 0 || c.RecordMargin < 0 {
		problems = append(problems, "durations must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Shadowing is the part of the configuration the session machine reads.
func (c Config) Shadowing() session.Config {
	return session.Config{
		PlaybackRepeats:    c.PlaybackRepeats,
		UserRepeats:        c.UserRepeats,
		AssessmentEnabled:  c.Assessment,
		BusMode:            c.BusMode,
		PauseForNavigation: c.PauseForNavigation,
	}
}

// WithShadowing copies live session settings back into c.
func (c Config) WithShadowing(s session.Config) Config {
	c.PlaybackRepeats = s.PlaybackRepeats
	c.UserRepeats = s.UserRepeats
	c.Assessment = s.AssessmentEnabled
	c.BusMode = s.BusMode
	c.PauseForNavigation = s.PauseForNavigation
	return c
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
