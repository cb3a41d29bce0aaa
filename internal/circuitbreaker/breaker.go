// Package circuitbreaker implements a per-project Closed/Open/Half-Open
// failure gate so a misbehaving external dependency cannot be hammered by
// every sync attempt.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/diffsec/knowsync/internal/classify"
)

// State is one of the three circuit states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// Config holds the breaker's tunables; all have spec defaults.
type Config struct {
	FailureThreshold int
	Timeout          time.Duration
	HalfOpenMaxCalls int
}

// DefaultConfig matches spec.md §4.6.
var DefaultConfig = Config{
	FailureThreshold: 5,
	Timeout:          300 * time.Second,
	HalfOpenMaxCalls: 1,
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig.Timeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = DefaultConfig.HalfOpenMaxCalls
	}
	return c
}

// Breaker gates calls for a single project. Zero value is not usable; use
// New.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time
	halfOpenInUse   int
}

// New returns a Breaker starting Closed.
func New(cfg Config) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: Closed,
	}
}

// State reports the breaker's current state, resolving a stale Open state to
// Half-Open if its timeout has elapsed, without consuming a half-open slot.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeExpireOpen()
	return b.state
}

func (b *Breaker) maybeExpireOpen() {
	if b.state == Open && b.now().Sub(b.lastFailureTime) > b.cfg.Timeout {
		b.state = HalfOpen
		b.halfOpenInUse = 0
	}
}

// Allow attempts to admit a call. It returns nil and reserves a half-open
// slot (released by RecordSuccess/RecordFailure) when the call may proceed,
// or classify.ErrCircuitOpen when it must be rejected outright.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.maybeExpireOpen()

	switch b.state {
	case Closed:
		return nil
	case Open:
		return classify.ErrCircuitOpen
	case HalfOpen:
		if b.halfOpenInUse >= b.cfg.HalfOpenMaxCalls {
			return classify.ErrCircuitOpen
		}
		b.halfOpenInUse++
		return nil
	default:
		return classify.ErrCircuitOpen
	}
}

// RecordSuccess reports a successful call admitted by Allow.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == HalfOpen {
		b.halfOpenInUse--
	}
	b.state = Closed
	b.failureCount = 0
}

// RecordFailure reports a failed call admitted by Allow.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInUse--
		b.state = Open
		b.lastFailureTime = b.now()
	case Closed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.state = Open
			b.lastFailureTime = b.now()
		}
	}
}

// Call wraps fn with Allow/RecordSuccess/RecordFailure bookkeeping.
func (b *Breaker) Call(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
