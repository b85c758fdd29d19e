package retry

import (
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breaker trips after threshold consecutive retryable failures of one
// operation kind and stays open for cooldown. Callers hold the
// coordinator lock.
type breaker struct {
	threshold int
	cooldown  time.Duration

	state    breakerState
	failures int
	openedAt time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

// allow reports whether a call may proceed, and if not, when to try again.
func (b *breaker) allow(now time.Time) (bool, time.Time) {
	if b.threshold <= 0 {
		return true, time.Time{}
	}
	switch b.state {
	case breakerOpen:
		reopen := b.openedAt.Add(b.cooldown)
		if now.Before(reopen) {
			return false, reopen
		}
		b.state = breakerHalfOpen
		return true, time.Time{}
	case breakerHalfOpen:
		// one probe at a time
		return false, now.Add(b.cooldown)
	default:
		return true, time.Time{}
	}
}

func (b *breaker) success() {
	b.state = breakerClosed
	b.failures = 0
}

func (b *breaker) failure(now time.Time) {
	if b.threshold <= 0 {
		return
	}
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.threshold {
		b.state = breakerOpen
		b.openedAt = now
	}
}

func (b *breaker) String() string {
	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
