package client

import (
	"math"
	"time"
)

// Backoff computes exponential reconnect delays.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	// Max caps a single delay. Zero means uncapped.
	Max time.Duration
}

// Delay returns Base * Multiplier^(attempt-1). Attempts below 1 get Base.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.Base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
