// Package connectivity guards calls to flaky upstream providers: a circuit
// breaker per source, and a bounded retry helper for transient transport
// errors.
package connectivity

import (
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected immediately
	BreakerHalfOpen                     // one probe at a time
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker trips open after a run of consecutive failures and lets a
// single probe through once the reset timeout has elapsed.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	probing      bool
	now          func() time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the consecutive failure count that opens the breaker.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.threshold = n
		}
	}
}

// WithBreakerResetTimeout sets how long the breaker stays open.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

// WithBreakerClock injects a clock (tests).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// NewCircuitBreaker defaults to 5 failures and a 2 minute reset timeout.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold:    5,
		resetTimeout: 2 * time.Minute,
		now:          time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Allow reports whether a call may run. In half-open only one caller at a
// time is let through; it must report back with Record.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	switch cb.state {
	case BreakerOpen:
		return false
	case BreakerHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
	}
	return true
}

// Record reports the outcome of a call admitted by Allow.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if success {
		cb.state = BreakerClosed
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
	}
}

// Cancel returns an admission from Allow whose call never ran, so a
// half-open breaker can admit another probe.
func (cb *CircuitBreaker) Cancel() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

// maybeHalfOpen must be called with mu held.
func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		cb.state = BreakerHalfOpen
		cb.probing = false
	}
}

// Breakers lazily holds one CircuitBreaker per source name.
type Breakers struct {
	mu   sync.Mutex
	opts []BreakerOption
	m    map[string]*CircuitBreaker
}

// NewBreakers returns a set whose breakers are built with opts.
func NewBreakers(opts ...BreakerOption) *Breakers {
	return &Breakers{opts: opts, m: make(map[string]*CircuitBreaker)}
}

// For returns the breaker for name, creating it on first use.
func (b *Breakers) For(name string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.m[name]
	if !ok {
		cb = NewCircuitBreaker(b.opts...)
		b.m[name] = cb
	}
	return cb
}

// States returns a snapshot of every known breaker's state.
func (b *Breakers) States() map[string]BreakerState {
	b.mu.Lock()
	names := make([]string, 0, len(b.m))
	cbs := make([]*CircuitBreaker, 0, len(b.m))
	for name, cb := range b.m {
		names = append(names, name)
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()

	out := make(map[string]BreakerState, len(names))
	for i, cb := range cbs {
		out[names[i]] = cb.State()
	}
	return out
}
