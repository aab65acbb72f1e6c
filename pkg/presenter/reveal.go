package presenter

import (
	"context"
	"time"
)

// RevealConfig controls the typed reveal of interviewer messages.
type RevealConfig struct {
	StartDelay    time.Duration `yaml:"start_delay" json:"start_delay" split_words:"true"`
	FastPerChar   time.Duration `yaml:"fast_per_char" json:"fast_per_char" split_words:"true"`
	SlowPerChar   time.Duration `yaml:"slow_per_char" json:"slow_per_char" split_words:"true"`
	LongThreshold int           `yaml:"long_threshold" json:"long_threshold" split_words:"true"`
	Enabled       bool          `yaml:"enabled" json:"enabled" split_words:"true"`
}

// DefaultRevealConfig matches the pacing of the web interviewer.
func DefaultRevealConfig() RevealConfig {
	return RevealConfig{
		StartDelay:    120 * time.Millisecond,
		FastPerChar:   8 * time.Millisecond,
		SlowPerChar:   18 * time.Millisecond,
		LongThreshold: 160,
		Enabled:       true,
	}
}

// PerChar returns the per-character delay for a message of n characters. Long
// messages type faster.
func (c RevealConfig) PerChar(n int) time.Duration {
	if n > c.LongThreshold {
		return c.FastPerChar
	}
	return c.SlowPerChar
}

// sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
