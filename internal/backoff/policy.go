// Package backoff provides exponential backoff with jitter for retry loops.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy defines the parameters for exponential backoff calculation.
type BackoffPolicy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// NewPolicy builds a policy from durations, as they appear in configuration.
// Zero values fall back to DefaultPolicy.
func NewPolicy(initial, max time.Duration, factor, jitter float64) BackoffPolicy {
	p := DefaultPolicy()
	if initial > 0 {
		p.InitialMs = float64(initial.Milliseconds())
	}
	if max > 0 {
		p.MaxMs = float64(max.Milliseconds())
	}
	if factor > 0 {
		p.Factor = factor
	}
	if jitter >= 0 && jitter <= 1 {
		p.Jitter = jitter
	}
	return p
}

// ComputeBackoff calculates the backoff duration for a given attempt number.
// The formula is: base = initialMs * factor^(attempt-1), jitter = base * jitter * random()
// Returns min(maxMs, base + jitter). Attempt numbers start at 1.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeBackoffWithRand is ComputeBackoff with a caller-supplied random
// value in [0.0, 1.0).
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	total := math.Min(policy.MaxMs, base+base*policy.Jitter*randomValue)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy returns a sensible default backoff policy.
// Initial: 100ms, Max: 30s, Factor: 2, Jitter: 10%
func DefaultPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialMs: 100,
		MaxMs:     30000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// AggressivePolicy is used for short in-process conflicts such as sequence
// collisions on append.
// Initial: 5ms, Max: 200ms, Factor: 2, Jitter: 50%
func AggressivePolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialMs: 5,
		MaxMs:     200,
		Factor:    2,
		Jitter:    0.5,
	}
}
