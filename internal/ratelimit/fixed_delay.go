package ratelimit

import (
	"context"
	"sync"
	"time"
)

// FixedDelayLimiter enforces a minimum gap between request starts.
type FixedDelayLimiter struct {
	cooldown

	delay       time.Duration
	lastRequest time.Time
	mu          sync.Mutex
}

// NewFixedDelayLimiter creates a new fixed delay limiter.
func NewFixedDelayLimiter(cfg Config) *FixedDelayLimiter {
	cfg = applyDefaults(cfg)
	return &FixedDelayLimiter{delay: cfg.FixedDelay}
}

// Wait claims the next slot and sleeps until it arrives.
func (fdl *FixedDelayLimiter) Wait(ctx context.Context) error {
	if err := fdl.waitCooldown(ctx); err != nil {
		return err
	}

	fdl.mu.Lock()
	wait, now := fdl.reserve(time.Now())
	fdl.lastRequest = now.Add(wait)
	fdl.mu.Unlock()

	return Sleep(ctx, wait)
}

// Allow returns true if no wait is needed.
func (fdl *FixedDelayLimiter) Allow() bool {
	if fdl.remaining() > 0 {
		return false
	}

	fdl.mu.Lock()
	defer fdl.mu.Unlock()

	wait, now := fdl.reserve(time.Now())
	if wait > 0 {
		return false
	}
	fdl.lastRequest = now
	return true
}

// Reserve returns time to wait.
func (fdl *FixedDelayLimiter) Reserve() time.Duration {
	pause := fdl.remaining()

	fdl.mu.Lock()
	defer fdl.mu.Unlock()

	wait, _ := fdl.reserve(time.Now())
	if pause > wait {
		return pause
	}
	return wait
}

func (fdl *FixedDelayLimiter) reserve(now time.Time) (time.Duration, time.Time) {
	if fdl.lastRequest.IsZero() {
		return 0, now
	}

	elapsed := now.Sub(fdl.lastRequest)
	if elapsed >= fdl.delay {
		return 0, now
	}
	return fdl.delay - elapsed, now
}

// Reset forgets the last request and lifts any pause.
func (fdl *FixedDelayLimiter) Reset() {
	fdl.clear()

	fdl.mu.Lock()
	defer fdl.mu.Unlock()
	fdl.lastRequest = time.Time{}
}
