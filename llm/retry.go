package llm

import (
	"math"
	"time"
)

// RetryConfig holds retry configuration for provider requests.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry, before the class multiplier.
	BaseDelay time.Duration

	// MaxDelay caps any single delay.
	MaxDelay time.Duration

	// BackoffFactor is applied once per attempt.
	BackoffFactor float64
}

// DefaultRetryConfig returns sensible retry defaults for provider requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryPolicy decides whether a failed attempt is retried and how long to
// wait first. It is a value type and safe to share.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy creates a policy from cfg. Negative retries are treated as
// zero and a factor below 1 as 1, so delays never shrink.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultRetryConfig().MaxDelay
	}
	return RetryPolicy{cfg: cfg}
}

// Config returns the normalized configuration.
func (p RetryPolicy) Config() RetryConfig {
	return p.cfg
}

// MaxAttempts is the total number of attempts, first call included.
func (p RetryPolicy) MaxAttempts() int {
	return p.cfg.MaxRetries + 1
}

// Multiplier returns the class-dependent delay multiplier.
func Multiplier(kind Kind) float64 {
	switch kind {
	case KindRateLimited:
		return 3
	case KindQuotaExceeded:
		return 2
	default:
		return 1
	}
}

// Delay computes min(base × factor^attempt × multiplier, max) for a
// zero-based attempt index.
func (p RetryPolicy) Delay(attempt int, kind Kind) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.BackoffFactor, float64(attempt)) * Multiplier(kind)
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(p.cfg.MaxDelay) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Next reports whether attempt (zero-based) should be followed by another
// one after failing with err, and the delay to wait first.
func (p RetryPolicy) Next(attempt int, err error) (time.Duration, bool) {
	if err == nil || !IsRetryable(err) {
		return 0, false
	}
	if attempt >= p.cfg.MaxRetries {
		return 0, false
	}
	return p.Delay(attempt, KindOf(err)), true
}
