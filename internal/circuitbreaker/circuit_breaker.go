// Package circuitbreaker implements a minimal circuit breaker used to take
// misbehaving RPC endpoints out of rotation for a cooldown period.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means the circuit is closed and requests are allowed
	StateClosed State = "closed"
	// StateOpen means the circuit is open and requests are blocked
	StateOpen State = "open"
	// StateHalfOpen means the circuit is testing if the endpoint has recovered
	StateHalfOpen State = "half_open"
)

// Breaker tracks consecutive failures for one endpoint
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu               sync.Mutex
	state            State
	consecutiveFails int
	openedAt         time.Time
}

// Config configures a circuit breaker
type Config struct {
	Name        string
	MaxFailures int           // Consecutive failures before opening
	Cooldown    time.Duration // Time to wait before attempting half-open
}

// New creates a circuit breaker. Zero config values get sensible defaults.
func New(cfg *Config) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 3
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = 60 * time.Second
	}

	return &Breaker{
		name:        cfg.Name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		state:       StateClosed,
	}
}

// Allow reports whether a request may proceed. An open breaker transitions
// to half-open once its cooldown has elapsed, letting one probe through.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	}
	return true
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.state = StateClosed
}

// RecordFailure counts a failure, opening the circuit at the threshold.
// A failure while half-open re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++
	if b.state == StateHalfOpen || b.consecutiveFails >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = time.Now()
	}
}

// GetState returns the current state
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker's name
func (b *Breaker) Name() string {
	return b.name
}
