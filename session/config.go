package session

// Config is the live shadowing configuration. The machine reads it on
// every transition, so a change takes effect at the next transition that
// needs it.
type Config struct {
	PlaybackRepeats    int  `json:"playback_repeats" yaml:"playback_repeats"`
	UserRepeats        int  `json:"user_repeats" yaml:"user_repeats"`
	AssessmentEnabled  bool `json:"assessment_enabled" yaml:"assessment_enabled"`
	BusMode            bool `json:"bus_mode" yaml:"bus_mode"`
	PauseForNavigation bool `json:"pause_for_navigation" yaml:"pause_for_navigation"`
}

func DefaultConfig() Config {
	return Config{
		PlaybackRepeats:    1,
		UserRepeats:        1,
		PauseForNavigation: true,
	}
}

// normalized clamps repeat counts to at least 1.
func (c Config) normalized() Config {
	if c.PlaybackRepeats < 1 {
		c.PlaybackRepeats = 1
	}
	if c.UserRepeats < 1 {
		c.UserRepeats = 1
	}
	return c
}
