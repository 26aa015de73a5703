package breaker

import (
	"sync"
	"time"
)

// BreakerState mirrors the three-state circuit breaker carried over from
// the teacher's node-health breaker, generalized from a single hardcoded
// endpoint threshold into a configurable, reusable type shared by
// internal/outbox's per-kind breakers.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig parameterizes one breaker instance (spec.md §4.4: "Base
// backoff, max retries, and circuit breaker thresholds... are configurable
// per kind").
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	Cooldown         time.Duration // time in open before trying half-open
	HalfOpenProbes   int           // consecutive half-open successes before closing
}

// DefaultBreakerConfig mirrors the teacher's hardcoded 5-failure/30s values.
var DefaultBreakerConfig = BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second, HalfOpenProbes: 1}

// Breaker is a single dependency's circuit breaker state machine: closed ->
// open on N consecutive failures; open -> half-open after cooldown;
// half-open -> closed on K successful probes; any half-open failure returns
// to open (spec.md §4.4).
type Breaker struct {
	cfg BreakerConfig

	mu              sync.Mutex
	state           BreakerState
	failures        int
	halfOpenSuccess int
	openedAt        time.Time
}

// NewBreaker constructs a closed breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// ErrCircuitOpen is returned by Allow when the breaker is rejecting calls.
type ErrCircuitOpen struct{ Dependency string }

func (e ErrCircuitOpen) Error() string { return "circuit open: " + e.Dependency }

// Allow reports whether a call may proceed, transitioning open -> half-open
// once the cooldown has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.halfOpenSuccess = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess reports a successful call, closing the breaker after enough
// consecutive half-open probes succeed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= max(b.cfg.HalfOpenProbes, 1) {
			b.state = BreakerClosed
			b.failures = 0
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure reports a failed call, opening the breaker once the
// threshold is hit (or immediately, from half-open).
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = time.Now()
		return
	}

	b.failures++
	if b.failures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = time.Now()
	}
}

// State reports the current breaker state, for the obsmetrics gauge.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerRegistry keys breakers by dependency/kind name so
// internal/payments and internal/outbox can share one lookup.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewBreakerRegistry constructs a registry whose breakers all share cfg.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// For returns the breaker for name, creating one on first use.
func (r *BreakerRegistry) For(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = NewBreaker(r.cfg)
	r.breakers[name] = b
	return b
}
