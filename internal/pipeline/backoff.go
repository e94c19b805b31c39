package pipeline

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy is per-phase: attempts are counted across claims, and the delay
// doubles per failed attempt up to the cap, with jitter so a herd of workers
// does not retry in lockstep.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	JitterFrac  float64
}

// NextDelay computes the backoff after the given attempt count (1-based).
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	base := p.BackoffBase
	maxB := p.BackoffCap
	j := p.JitterFrac
	if base <= 0 {
		base = 1 * time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}
	if j <= 0 {
		j = 0.20
	}
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempts-1)))
	if d > maxB {
		d = maxB
	}
	delta := float64(d) * j
	low := float64(d) - delta
	high := float64(d) + delta
	if low < 0 {
		low = 0
	}
	return time.Duration(low + rand.Float64()*(high-low))
}
