//go:build property
// +build property

package llm

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRetryDelayMonotonicAndCapped verifies backoff never shrinks across
// attempts for a fixed class and never exceeds MaxDelay.
func TestRetryDelayMonotonicAndCapped(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	kinds := []Kind{KindTransport, KindRateLimited, KindQuotaExceeded, KindServiceUnavailable}

	properties.Property("delay is non-decreasing and capped", prop.ForAll(
		func(baseMs int, maxMs int, factor float64, kindIdx int) bool {
			p := NewRetryPolicy(RetryConfig{
				MaxRetries:    8,
				BaseDelay:     time.Duration(baseMs) * time.Millisecond,
				MaxDelay:      time.Duration(maxMs) * time.Millisecond,
				BackoffFactor: factor,
			})
			kind := kinds[kindIdx]
			ceiling := p.Config().MaxDelay

			prev := time.Duration(0)
			for attempt := 0; attempt <= 8; attempt++ {
				d := p.Delay(attempt, kind)
				if d < prev || d > ceiling {
					return false
				}
				prev = d
			}
			return true
		},
		gen.IntRange(0, 10000),
		gen.IntRange(1, 120000),
		gen.Float64Range(0, 4),
		gen.IntRange(0, len(kinds)-1),
	))

	properties.TestingRun(t)
}
