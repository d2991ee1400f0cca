// Package backoff provides the retry policy shared by invoice payment
// retries, subscription renewal attempts and webhook deliveries.
package backoff

import (
	"math/rand"
	"time"
)

// JitterFraction bounds the random spread applied to each delay.
const JitterFraction = 0.2

// Policy computes when a failed operation becomes eligible for its next
// attempt. The delay doubles per attempt up to Cap, with bounded random
// jitter so many entities failing together do not retry together.
type Policy struct {
	// Base is the delay after the first failure.
	Base time.Duration
	// Cap is the upper bound on the computed delay.
	Cap time.Duration
	// MaxAttempts is the attempt count after which failures stop
	// scheduling retries; progress then requires a forced call.
	MaxAttempts int

	// rand is overridable for deterministic tests.
	rand func() float64
}

// NewPolicy builds a policy with the given base delay, cap and attempt limit.
func NewPolicy(base, cap time.Duration, maxAttempts int) *Policy {
	return &Policy{
		Base:        base,
		Cap:         cap,
		MaxAttempts: maxAttempts,
		rand:        rand.Float64,
	}
}

// NextRetryAt returns when the attempt after attemptCount failed attempts
// becomes eligible, measured from lastAttemptAt.
func (p *Policy) NextRetryAt(attemptCount int, lastAttemptAt time.Time) time.Time {
	delay := p.Delay(attemptCount)
	return lastAttemptAt.Add(delay)
}

// Delay returns the jittered delay for the given attempt count.
func (p *Policy) Delay(attemptCount int) time.Duration {
	if attemptCount < 0 {
		attemptCount = 0
	}

	delay := p.Base
	for i := 0; i < attemptCount; i++ {
		delay *= 2
		if delay >= p.Cap {
			delay = p.Cap
			break
		}
	}
	if delay > p.Cap {
		delay = p.Cap
	}

	// Spread the delay by +-JitterFraction.
	rnd := rand.Float64
	if p.rand != nil {
		rnd = p.rand
	}
	jitter := 1 + JitterFraction*(2*rnd()-1)
	return time.Duration(float64(delay) * jitter)
}

// Exhausted reports whether attemptCount has reached the attempt limit.
// An exhausted entity is stalled: no retry time is scheduled and only a
// forced call moves it forward.
func (p *Policy) Exhausted(attemptCount int) bool {
	return p.MaxAttempts > 0 && attemptCount >= p.MaxAttempts
}

// Eligible reports whether an attempt may run now. A nil nextRetryAt means
// the entity has never failed (or is stalled) and is eligible.
func Eligible(now time.Time, nextRetryAt *time.Time, force bool) bool {
	if force {
		return true
	}
	if nextRetryAt == nil {
		return true
	}
	return !now.Before(*nextRetryAt)
}
