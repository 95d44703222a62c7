package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"3tcapital/telescope/internal/core/entry"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation
	BreakerOpen                         // Calls fail fast
	BreakerHalfOpen                     // Probing whether storage recovered
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker stops hammering a storage backend that keeps failing. After
// maxFailures consecutive failures it opens for cooldown, then lets calls
// through half-open until successThreshold of them succeed.
type Breaker struct {
	maxFailures      int
	cooldown         time.Duration
	successThreshold int
	now              func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failures        int
	successes       int
	lastStateChange time.Time
}

// NewBreaker creates a breaker. Non-positive arguments select defaults.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		maxFailures:      maxFailures,
		cooldown:         cooldown,
		successThreshold: 1,
		now:              time.Now,
	}
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if rejected(err) {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		if b.state == BreakerHalfOpen || b.failures >= b.maxFailures {
			b.setState(BreakerOpen)
		}
		return err
	}

	b.failures = 0
	if b.state == BreakerHalfOpen {
		b.successes++
		if b.successes >= b.successThreshold {
			b.setState(BreakerClosed)
		}
	}
	return nil
}

// rejected reports errors caused by the entry itself rather than by the
// backend. They leave the failure count untouched.
func rejected(err error) bool {
	return errors.Is(err, entry.ErrInvalidEntry) ||
		errors.Is(err, entry.ErrIDAssigned) ||
		errors.Is(err, entry.ErrUnsupportedType) ||
		errors.Is(err, entry.ErrUnsupportedFilter)
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return true
	}
	if b.now().Sub(b.lastStateChange) < b.cooldown {
		return false
	}
	b.setState(BreakerHalfOpen)
	return true
}

// setState must be called with mu held.
func (b *Breaker) setState(s BreakerState) {
	b.state = s
	b.successes = 0
	if s == BreakerClosed {
		b.failures = 0
	}
	b.lastStateChange = b.now()
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(BreakerClosed)
}
