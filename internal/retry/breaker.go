package retry

import (
	"sync"
	"time"
)

// Breaker is a consecutive-failure circuit breaker guarding a single
// dependency (the LLM port, per spec §4.6: "circuit breaker after repeated
// failures"). It generalizes the cooldownUntil/failureCount bookkeeping
// pattern used for trading risk into a small reusable primitive.
type Breaker struct {
	threshold int
	cooldown  time.Duration

	mu            sync.Mutex
	failureCount  int
	cooldownUntil time.Time
}

// NewBreaker constructs a Breaker that opens after threshold consecutive
// failures and stays open for cooldown before allowing another attempt.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. It returns false while the
// breaker is open (within its cooldown window).
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cooldownUntil.IsZero() {
		return true
	}
	if time.Now().Before(b.cooldownUntil) {
		return false
	}
	// Cooldown elapsed: allow a trial call, but keep failureCount until
	// RecordSuccess clears it, so a failed trial re-opens the breaker at once.
	return true
}

// RecordSuccess clears the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.cooldownUntil = time.Time{}
}

// RecordFailure increments the consecutive-failure count and opens the
// breaker once threshold is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	if b.threshold > 0 && b.failureCount >= b.threshold {
		b.cooldownUntil = time.Now().Add(b.cooldown)
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.cooldownUntil.IsZero() && time.Now().Before(b.cooldownUntil)
}

// Reset clears the breaker unconditionally.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.cooldownUntil = time.Time{}
}
