package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements token bucket rate limiting.
type TokenBucket struct {
	cooldown

	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a new token bucket limiter.
func NewTokenBucket(cfg Config) *TokenBucket {
	cfg = applyDefaults(cfg)

	return &TokenBucket{
		rate:       cfg.RequestsPerSec,
		burst:      cfg.Burst,
		tokens:     float64(cfg.Burst),
		lastUpdate: time.Now(),
	}
}

// Wait blocks until a token is available or context is canceled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if err := tb.waitCooldown(ctx); err != nil {
			return err
		}

		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := tb.deficitWait() + time.Nanosecond
		tb.mu.Unlock()

		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Allow returns true if a token is available immediately.
func (tb *TokenBucket) Allow() bool {
	if tb.remaining() > 0 {
		return false
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

// Reserve returns the duration to wait for the next token.
func (tb *TokenBucket) Reserve() time.Duration {
	pause := tb.remaining()

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	wait := time.Duration(0)
	if tb.tokens < 1.0 {
		wait = tb.deficitWait()
	}
	if pause > wait {
		return pause
	}
	return wait
}

// Reset refills the bucket and lifts any pause.
func (tb *TokenBucket) Reset() {
	tb.clear()

	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens = float64(tb.burst)
	tb.lastUpdate = time.Now()
}

// deficitWait is the time until one whole token exists (call with lock held).
func (tb *TokenBucket) deficitWait() time.Duration {
	deficit := 1.0 - tb.tokens
	return time.Duration(deficit / tb.rate * float64(time.Second))
}

// refill adds tokens based on elapsed time (call with lock held).
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastUpdate)
	if elapsed <= 0 {
		return
	}

	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastUpdate = now
}
