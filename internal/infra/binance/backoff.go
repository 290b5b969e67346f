package binance

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Min doubled per attempt, capped at
// Max, then spread by +/- Jitter.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff starts at one second and never waits more than a minute.
func DefaultBackoff() Backoff {
	return Backoff{Min: baseDelay, Max: maxDelay, Jitter: 0.2}
}

// Next returns the delay before reconnect attempt n (0-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	wait := b.Min
	// 2^6 already exceeds the one minute cap
	for i := 0; i < attempt && i < 16; i++ {
		wait *= 2
		if wait >= b.Max {
			wait = b.Max
			break
		}
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := min(b.Jitter, 1)
	delta := float64(wait) * jitter
	out := wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
	return min(out, b.Max)
}
