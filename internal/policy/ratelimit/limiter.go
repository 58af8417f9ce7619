// Package ratelimit caps the crawler's total request rate across all domains.
// Per-domain spacing is the scheduler's job; this is the ceiling above it.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained requests per second. Zero or negative means unlimited.
	RPS   float64
	Burst int
}

// Limiter is a single token bucket shared by every worker.
type Limiter struct {
	bucket *rate.Limiter
}

// New creates a Limiter. Burst defaults to 1.
func New(cfg Config) *Limiter {
	if cfg.RPS <= 0 {
		return &Limiter{}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(cfg.RPS), burst)}
}

// Wait blocks until a request to domain may start. domain only labels the
// error; all domains draw from the same bucket.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	if l.bucket == nil {
		return ctx.Err()
	}
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w", domain, err)
	}
	return nil
}
