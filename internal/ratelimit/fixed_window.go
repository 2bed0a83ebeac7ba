package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// FixedWindow admits at most limit requests per one-second window.
type FixedWindow struct {
	cooldown

	limit       int
	window      time.Duration
	count       int
	windowStart time.Time
	mu          sync.Mutex
}

// NewFixedWindow creates a new fixed window limiter.
func NewFixedWindow(cfg Config) *FixedWindow {
	cfg = applyDefaults(cfg)

	limit := int(cfg.RequestsPerSec)
	if limit < 1 {
		limit = 1
	}
	return &FixedWindow{
		limit:       limit,
		window:      time.Second,
		windowStart: time.Now(),
	}
}

// Wait blocks until the request can proceed or ctx is done.
func (fw *FixedWindow) Wait(ctx context.Context) error {
	for {
		if err := fw.waitCooldown(ctx); err != nil {
			return err
		}
		if fw.Allow() {
			return nil
		}

		wait := fw.Reserve()
		if wait <= 0 {
			continue
		}

		// jitter spreads workers released by the same window reset
		jitter := time.Duration(rand.Int64N(int64(wait)/4 + 1))
		if err := Sleep(ctx, wait+jitter); err != nil {
			return err
		}
	}
}

// Allow returns true if request can proceed.
func (fw *FixedWindow) Allow() bool {
	if fw.remaining() > 0 {
		return false
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.resetWindowIfNeeded()
	if fw.count < fw.limit {
		fw.count++
		return true
	}
	return false
}

// Reserve returns wait time until next available slot.
func (fw *FixedWindow) Reserve() time.Duration {
	pause := fw.remaining()

	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.resetWindowIfNeeded()
	wait := time.Duration(0)
	if fw.count >= fw.limit {
		wait = fw.window - time.Since(fw.windowStart)
	}
	if pause > wait {
		return pause
	}
	return wait
}

// Reset starts a fresh window and lifts any pause.
func (fw *FixedWindow) Reset() {
	fw.clear()

	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.count = 0
	fw.windowStart = time.Now()
}

func (fw *FixedWindow) resetWindowIfNeeded() {
	now := time.Now()
	if now.Sub(fw.windowStart) >= fw.window {
		fw.count = 0
		fw.windowStart = now
	}
}
