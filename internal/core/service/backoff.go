package service

import (
	"time"
)

// Backoff yields capped exponential delays. A MaxAttempts of 0 retries
// forever.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	MaxAttempts int

	attempts int
	current  time.Duration
}

func NewBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) *Backoff {
	if multiplier < 1 {
		multiplier = 1
	}
	return &Backoff{
		Initial:     initial,
		Max:         max,
		Multiplier:  multiplier,
		MaxAttempts: maxAttempts,
	}
}

// Next returns the delay before the next attempt, or false once the
// attempts are exhausted.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.MaxAttempts > 0 && b.attempts >= b.MaxAttempts {
		return 0, false
	}
	b.attempts++
	if b.current == 0 {
		b.current = b.Initial
	} else {
		b.current = time.Duration(float64(b.current) * b.Multiplier)
	}
	if b.current > b.Max {
		b.current = b.Max
	}
	return b.current, true
}

func (b *Backoff) Attempts() int {
	return b.attempts
}

func (b *Backoff) Reset() {
	b.attempts = 0
	b.current = 0
}
