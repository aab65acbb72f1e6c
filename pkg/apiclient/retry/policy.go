// Package retry provides automatic re-sending with exponential backoff for survey API calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"surveychat/pkg/apierrors"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts   int           `yaml:"max_attempts" json:"max_attempts" split_words:"true"` // including the initial attempt
	InitialDelay  time.Duration `yaml:"initial_delay" json:"initial_delay" split_words:"true"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay" split_words:"true"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor" split_words:"true"`
	Jitter        bool          `yaml:"jitter" json:"jitter" split_words:"true"`
}

// DefaultConfig makes a single attempt. Failures surface to the respondent, who decides
// whether to retry.
//
//nolint:gochecknoglobals // default config pattern
var DefaultConfig = Config{
	MaxAttempts:   1,
	InitialDelay:  250 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines if an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier: retry classified retryable API errors, never
// retry a cancelled caller.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return apierrors.IsRetryable(err)
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Config     Config
	Classifier Classifier
	// OnRetry, if set, is called before each re-sent attempt.
	OnRetry func(op string, attempt int, err error)
}

// NewPolicy creates a retry policy. A nil classifier uses ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	return &Policy{Config: config, Classifier: classifier}
}

// CalculateDelay computes the delay before the given attempt number (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		// +/-10%
		jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
		delay += jitter
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}
	return delay
}

// ShouldRetry reports whether err is retryable under this policy.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.Config.MaxAttempts; attempt++ {
		if attempt > 1 {
			if p.OnRetry != nil {
				p.OnRetry(op, attempt, lastErr)
			}
			if delay := p.CalculateDelay(attempt); delay > 0 {
				select {
				case <-ctx.Done():
					return zero, lastErr
				case <-time.After(delay):
				}
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.ShouldRetry(err) {
			break
		}
	}
	return zero, lastErr
}
