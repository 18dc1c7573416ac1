// Package backoff centralizes retry delay calculation shared by query
// retries and cache refresh retries.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the delay before a given retry attempt. Attempts are
// 1-based: the first retry is attempt 1.
type Strategy interface {
	Delay(attempt int, base, max time.Duration) time.Duration
}

// Linear spaces retries at base * attempt, capped at max when max > 0.
type Linear struct{}

// Delay implements Strategy.
func (Linear) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if max > 0 && d > max {
		d = max
	}
	return d
}

// ExponentialJitter doubles the delay each attempt and adds up to jitter
// fraction of random spread.
type ExponentialJitter struct {
	Multiplier float64
	Jitter     float64
}

// Delay implements Strategy.
func (s ExponentialJitter) Delay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	multiplier := s.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	// attempt-1 so the first retry waits exactly base.
	d := time.Duration(float64(base) * Pow(multiplier, attempt-1))
	if d < 0 || (max > 0 && d > max) {
		d = max
	}
	jitter := s.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if jitter > 0 {
		extra := time.Duration(float64(d) * jitter * rand.Float64())
		if max > 0 && d+extra > max {
			d = max
		} else {
			d += extra
		}
	}
	return d
}

// Pow is an integer-exponent power helper avoiding math.Pow on hot paths.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
