package ratelimit

import (
	"math"
	"math/rand/v2"
	"time"
)

// CalculateBackoff returns the wait before retry number attempt (1-based):
// InitialBackoff * BackoffMultiplier^(attempt-1) plus a jitter drawn from
// [0, Jitter), capped at MaxBackoff. With the defaults this is 1s, 2s, 4s...
func CalculateBackoff(attempt int, cfg Config) time.Duration {
	return calculateBackoff(attempt, cfg, rand.Float64)
}

func calculateBackoff(attempt int, cfg Config, rnd func() float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if cfg.MaxBackoff > 0 && base > float64(cfg.MaxBackoff) {
		base = float64(cfg.MaxBackoff)
	}

	backoff := base
	if cfg.Jitter > 0 {
		backoff += rnd() * float64(cfg.Jitter)
	}
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}

// ShouldRetry reports whether another retry fits in the budget, given the
// number of retries already spent.
func ShouldRetry(retries int, maxRetries int) bool {
	return retries < maxRetries
}
