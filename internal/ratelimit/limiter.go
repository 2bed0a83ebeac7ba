package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter paces outbound request starts for one provider.
type Limiter interface {
	Wait(ctx context.Context) error
	Allow() bool
	Reserve() time.Duration
	// Pause holds every caller until the given instant, e.g. after a 429.
	Pause(until time.Time)
	Reset()
}

// Strategy defines the rate limiting strategy.
type Strategy string

const (
	StrategyTokenBucket Strategy = "token_bucket"
	StrategyFixedWindow Strategy = "fixed_window"
	StrategyFixedDelay  Strategy = "fixed_delay"
	StrategyNone        Strategy = "none"
)

// NewLimiter creates a rate limiter based on config.
func NewLimiter(cfg Config) Limiter {
	cfg = applyDefaults(cfg)
	switch cfg.Strategy {
	case StrategyFixedWindow:
		return NewFixedWindow(cfg)
	case StrategyFixedDelay:
		return NewFixedDelayLimiter(cfg)
	case StrategyNone:
		return &Unlimited{}
	default:
		return NewTokenBucket(cfg)
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// cooldown is a shared pause window embedded by every limiter.
type cooldown struct {
	mu    sync.Mutex
	until time.Time
}

func (c *cooldown) Pause(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until.After(c.until) {
		c.until = until
	}
}

func (c *cooldown) remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Until(c.until)
}

func (c *cooldown) clear() {
	c.mu.Lock()
	c.until = time.Time{}
	c.mu.Unlock()
}

// waitCooldown blocks while a pause is in effect.
func (c *cooldown) waitCooldown(ctx context.Context) error {
	for {
		d := c.remaining()
		if d <= 0 {
			return ctx.Err()
		}
		if err := Sleep(ctx, d); err != nil {
			return err
		}
	}
}

// Unlimited never blocks except for pauses.
type Unlimited struct {
	cooldown
}

func (u *Unlimited) Wait(ctx context.Context) error { return u.waitCooldown(ctx) }
func (u *Unlimited) Allow() bool                    { return u.remaining() <= 0 }
func (u *Unlimited) Reserve() time.Duration {
	if d := u.remaining(); d > 0 {
		return d
	}
	return 0
}
func (u *Unlimited) Reset() { u.clear() }
