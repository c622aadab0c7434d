package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:    3,
		BaseDelay:     2000 * time.Millisecond,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
	})

	tests := []struct {
		name string
		kind Kind
		want []time.Duration
	}{
		{"rate limited", KindRateLimited, []time.Duration{6000 * time.Millisecond, 12000 * time.Millisecond, 24000 * time.Millisecond}},
		{"quota exceeded", KindQuotaExceeded, []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second}},
		{"service unavailable", KindServiceUnavailable, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}},
		{"transport", KindTransport, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for attempt, want := range tt.want {
				assert.Equal(t, want, p.Delay(attempt, tt.kind), "attempt %d", attempt)
			}
		})
	}
}

func TestRetryPolicy_DelayCapped(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:    10,
		BaseDelay:     2 * time.Second,
		MaxDelay:      20 * time.Second,
		BackoffFactor: 2,
	})

	assert.Equal(t, 20*time.Second, p.Delay(3, KindRateLimited))
	assert.Equal(t, 20*time.Second, p.Delay(2000, KindTransport), "huge exponents saturate at the cap")
}

func TestRetryPolicy_Next(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{
		MaxRetries:    2,
		BaseDelay:     time.Second,
		MaxDelay:      time.Minute,
		BackoffFactor: 2,
	})

	rateLimited := NewError(KindRateLimited, errors.New("429"))

	d, ok := p.Next(0, rateLimited)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = p.Next(1, rateLimited)
	assert.True(t, ok)
	assert.Equal(t, 6*time.Second, d)

	_, ok = p.Next(2, rateLimited)
	assert.False(t, ok, "attempt index 2 is the last of maxRetries+1")

	assert.Equal(t, 3, p.MaxAttempts())
}

func TestRetryPolicy_NextStopsOnNonRetryable(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	for _, kind := range []Kind{KindClientRejected, KindParse, KindValidation, KindConfiguration} {
		_, ok := p.Next(0, NewError(kind, errors.New("nope")))
		assert.False(t, ok, kind.String())
	}

	_, ok := p.Next(0, nil)
	assert.False(t, ok)
}

func TestRetryPolicy_PlainErrorsAreTransport(t *testing.T) {
	p := NewRetryPolicy(DefaultRetryConfig())

	d, ok := p.Next(0, errors.New("connection reset"))
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestNewRetryPolicy_Normalizes(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{MaxRetries: -1, BaseDelay: time.Second, BackoffFactor: 0.5})

	cfg := p.Config()
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 1.0, cfg.BackoffFactor)
	assert.Equal(t, DefaultRetryConfig().MaxDelay, cfg.MaxDelay)
	assert.Equal(t, 1, p.MaxAttempts())
}
