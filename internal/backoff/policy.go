// Package backoff provides exponential backoff with jitter and a generic
// retry helper used by the LLM providers and integrations.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Base is the delay before the first retry.
	Base time.Duration
	// Max caps the computed delay.
	Max time.Duration
	// Factor is the multiplier applied per attempt.
	Factor float64
	// Jitter is the randomization fraction (0.0 to 1.0) added to each delay.
	Jitter float64
}

// DefaultPolicy returns the policy used for provider retries:
// 500ms base, 30s cap, doubling, 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:   500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.1,
	}
}

// Delay computes the backoff duration before retry number attempt.
// Attempts are 1-indexed; each subsequent delay is strictly no shorter
// than the previous one before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

func (p Policy) delayWithRand(attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Base) * math.Pow(p.Factor, exp)
	jittered := base + base*p.Jitter*randomValue
	return time.Duration(math.Min(float64(p.Max), jittered))
}
