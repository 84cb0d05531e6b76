package modelrouter

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the health of a provider.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// HealthTracker tracks per-provider health using a circuit breaker pattern.
// Three failures within five minutes open the circuit for thirty seconds,
// after which the provider is half-open until its next result.
type HealthTracker struct {
	mu        sync.Mutex
	providers map[string]*providerHealth
	now       func() time.Time
}

type providerHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		providers: make(map[string]*providerHealth),
		now:       time.Now,
	}
}

// GetHealth returns the current health state for a provider.
func (h *HealthTracker) GetHealth(provider string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph, ok := h.providers[provider]
	if !ok {
		return HealthHealthy
	}

	if ph.state == HealthUnhealthy && h.now().Sub(ph.unhealthyAt) >= healthUnhealthyPeriod {
		ph.state = HealthHalfOpen
	}
	return ph.state
}

// RecordSuccess closes the circuit for a provider.
func (h *HealthTracker) RecordSuccess(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	ph.state = HealthHealthy
	ph.failures = ph.failures[:0]
}

// RecordFailure records a failed call. A failure while half-open reopens the circuit.
func (h *HealthTracker) RecordFailure(provider string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ph := h.getOrCreate(provider)
	now := h.now()

	switch ph.state {
	case HealthUnhealthy:
		return
	case HealthHalfOpen:
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := ph.failures[:0]
	for _, t := range ph.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	ph.failures = append(valid, now)

	if len(ph.failures) >= healthFailureThreshold {
		ph.state = HealthUnhealthy
		ph.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(provider string) *providerHealth {
	ph, ok := h.providers[provider]
	if !ok {
		ph = &providerHealth{state: HealthHealthy}
		h.providers[provider] = ph
	}
	return ph
}
