package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays.
type Backoff struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps any single delay. Zero means uncapped.
	Max time.Duration
	// Multiplier scales the delay per attempt. Default: 2.
	Multiplier float64
	// JitterFraction spreads each delay by ±fraction. Zero disables jitter.
	JitterFraction float64
}

// ExponentialBackoff returns a doubling, jitter-free schedule starting at base.
func ExponentialBackoff(base time.Duration) Backoff {
	return Backoff{Base: base, Multiplier: 2}
}

// Delay returns the wait before retry number attempt, where attempt 1 is the
// first retry. Non-positive attempts are treated as 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2
	}

	delay := float64(b.Base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.JitterFraction > 0 {
		spread := delay * b.JitterFraction
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
