package authz

import (
	"sync"
	"time"
)

const (
	breakerThreshold = 3
	breakerWindow    = 30 * time.Second
)

// breaker trips after breakerThreshold consecutive failures inside
// breakerWindow, then holds open for one window before allowing a probe.
type breaker struct {
	mu        sync.Mutex
	clock     func() time.Time
	failures  int
	firstFail time.Time
	openUntil time.Time
}

func newBreaker(clock func() time.Time) *breaker {
	if clock == nil {
		clock = time.Now
	}
	return &breaker{clock: clock}
}

// allow reports whether a call may proceed.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.clock().Before(b.openUntil)
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()
	if b.failures == 0 || now.Sub(b.firstFail) > breakerWindow {
		b.failures = 0
		b.firstFail = now
	}
	b.failures++
	if b.failures >= breakerThreshold {
		b.openUntil = now.Add(breakerWindow)
		b.failures = 0
	}
}
