package audit

import (
	"fmt"
	"sync"
	"time"
)

// BreakerState represents the current state of the delivery breaker.
type BreakerState int

const (
	// BreakerClosed allows deliveries through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects deliveries immediately.
	BreakerOpen
	// BreakerHalfOpen allows probe deliveries through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker guards the webhook sink against a dead or slow receiver: after a
// run of consecutive failures it stops attempting deliveries for a cooldown
// period, then probes before fully resuming. Safe for concurrent use.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	successes        int
	failureThreshold int
	successThreshold int
	cooldown         time.Duration
	openedAt         time.Time
	onState          func(BreakerState)
}

// NewBreaker creates a delivery breaker. failureThreshold consecutive
// failures trip it open; successThreshold consecutive probe successes close
// it again; cooldown is how long it stays open before probing.
func NewBreaker(failureThreshold, successThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 5
	}
	if successThreshold < 1 {
		successThreshold = 2
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		cooldown:         cooldown,
	}
}

// Observe registers a callback invoked on every state transition. The
// callback runs under the breaker lock and must not call back into it.
func (b *Breaker) Observe(fn func(BreakerState)) {
	b.mu.Lock()
	b.onState = fn
	b.mu.Unlock()
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onState != nil {
		b.onState(s)
	}
}

// Allow reports whether a delivery should be attempted. It returns an error
// while the breaker is open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) > b.cooldown {
			b.setState(BreakerHalfOpen)
			b.successes = 0
			return nil
		}
		return fmt.Errorf("audit delivery breaker is open")
	default:
		return nil
	}
}

// RecordSuccess records a successful delivery.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.setState(BreakerClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure records a failed delivery.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.setState(BreakerOpen)
			b.openedAt = time.Now()
		}
	case BreakerHalfOpen:
		// Any failure while probing immediately reopens.
		b.setState(BreakerOpen)
		b.openedAt = time.Now()
		b.successes = 0
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen && time.Since(b.openedAt) > b.cooldown {
		b.setState(BreakerHalfOpen)
		b.successes = 0
	}
	return b.state
}
