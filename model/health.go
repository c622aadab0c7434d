package model

import (
	"sync"
	"time"

	"github.com/c360studio/semplan/llm"
)

// CircuitState is the breaker position of one provider.
type CircuitState string

// Circuit states.
const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// EndpointHealth is a snapshot of one provider's recent outcomes.
type EndpointHealth struct {
	Available bool `json:"available"`

	LastSuccess time.Time `json:"last_success,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`

	// FailureCount is the number of consecutive failures.
	FailureCount int `json:"failure_count"`

	// LastErrorKind and LastError describe the most recent failure.
	LastErrorKind string `json:"last_error_kind,omitempty"`
	LastError     string `json:"last_error,omitempty"`

	CircuitOpen     bool         `json:"circuit_open"`
	CircuitOpenedAt time.Time    `json:"circuit_opened_at,omitempty"`
	State           CircuitState `json:"state"`
}

// HealthConfig configures the circuit breaker.
type HealthConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" toml:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout is how long an open circuit stays open before one
	// probe request is let through.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" toml:"recovery_timeout" json:"recovery_timeout"`
}

// DefaultHealthConfig returns the breaker defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
	}
}

func (c HealthConfig) normalized() HealthConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultHealthConfig().FailureThreshold
	}
	return c
}

type healthState struct {
	mu       sync.RWMutex
	config   HealthConfig
	statuses map[string]*EndpointHealth
}

func newHealthState(cfg HealthConfig) *healthState {
	return &healthState{
		config:   cfg.normalized(),
		statuses: make(map[string]*EndpointHealth),
	}
}

// entry returns the status for name, creating it. Callers hold h.mu.
func (h *healthState) entry(name string) *EndpointHealth {
	status, ok := h.statuses[name]
	if !ok {
		status = &EndpointHealth{Available: true, State: CircuitClosed}
		h.statuses[name] = status
	}
	return status
}

// state derives the breaker position at now. Callers hold h.mu.
func (h *healthState) state(status *EndpointHealth, now time.Time) CircuitState {
	if !status.CircuitOpen {
		return CircuitClosed
	}
	if now.Sub(status.CircuitOpenedAt) > h.config.RecoveryTimeout {
		return CircuitHalfOpen
	}
	return CircuitOpen
}

// MarkEndpointSuccess records a successful call and closes the circuit.
func (r *Registry) MarkEndpointSuccess(name string) {
	now := r.clock()

	r.health.mu.Lock()
	defer r.health.mu.Unlock()

	status := r.health.entry(name)
	status.LastSuccess = now
	status.FailureCount = 0
	status.Available = true
	status.CircuitOpen = false
	status.State = CircuitClosed
}

// MarkEndpointFailure records a failed call. The circuit opens once the
// threshold is reached; a failed half-open probe reopens it for another
// recovery period.
func (r *Registry) MarkEndpointFailure(name string, err error) {
	now := r.clock()

	r.health.mu.Lock()
	defer r.health.mu.Unlock()

	status := r.health.entry(name)
	status.LastFailure = now
	status.FailureCount++
	if err != nil {
		status.LastErrorKind = llm.KindOf(err).String()
		status.LastError = err.Error()
	}

	if status.FailureCount >= r.health.config.FailureThreshold {
		status.CircuitOpen = true
		status.CircuitOpenedAt = now
		status.Available = false
		status.State = CircuitOpen
	}
}

// IsEndpointAvailable reports whether name may be called: its circuit is
// closed or half-open. Unknown providers are available.
func (r *Registry) IsEndpointAvailable(name string) bool {
	now := r.clock()

	r.health.mu.RLock()
	defer r.health.mu.RUnlock()

	status, ok := r.health.statuses[name]
	if !ok {
		return true
	}
	return r.health.state(status, now) != CircuitOpen
}

// GetEndpointHealth returns a snapshot of name's health, or nil if nothing
// has been recorded.
func (r *Registry) GetEndpointHealth(name string) *EndpointHealth {
	now := r.clock()

	r.health.mu.RLock()
	defer r.health.mu.RUnlock()

	status, ok := r.health.statuses[name]
	if !ok {
		return nil
	}
	cp := *status
	cp.State = r.health.state(status, now)
	cp.Available = cp.State != CircuitOpen
	return &cp
}

// SetHealthConfig replaces the breaker configuration.
func (r *Registry) SetHealthConfig(cfg HealthConfig) {
	r.health.mu.Lock()
	defer r.health.mu.Unlock()

	r.health.config = cfg.normalized()
}

// ResetEndpointHealth forgets everything recorded for name.
func (r *Registry) ResetEndpointHealth(name string) {
	r.health.mu.Lock()
	defer r.health.mu.Unlock()

	delete(r.health.statuses, name)
}

// SetClock replaces the time source used for health decisions.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.now = now
}

func (r *Registry) clock() time.Time {
	r.mu.RLock()
	now := r.now
	r.mu.RUnlock()
	return now()
}
