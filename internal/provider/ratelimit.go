package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docrelay/internal/domain"
)

// RateLimiter is a token bucket shared by every caller of one provider.
type RateLimiter struct {
	mu       sync.Mutex
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return &RateLimiter{
		tokens:   float64(maxBurst),
		max:      float64(maxBurst),
		rate:     ratePerMinute / 60.0,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.lastTime).Seconds() * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.lastTime = now

		if rl.tokens >= 1.0 {
			rl.tokens -= 1.0
			rl.mu.Unlock()
			return nil
		}
		waitSec := (1.0 - rl.tokens) / rl.rate
		rl.mu.Unlock()

		timer := time.NewTimer(time.Duration(waitSec * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RateLimitedProvider queues queries behind a RateLimiter. A query whose
// context ends while queued fails without reaching the provider.
type RateLimitedProvider struct {
	inner   domain.AnswerProvider
	limiter *RateLimiter
}

func NewRateLimitedProvider(inner domain.AnswerProvider, limiter *RateLimiter) *RateLimitedProvider {
	return &RateLimitedProvider{inner: inner, limiter: limiter}
}

func (p *RateLimitedProvider) Name() string { return p.inner.Name() }

func (p *RateLimitedProvider) Query(ctx context.Context, text string) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: rate limit wait: %w", p.inner.Name(), err)
	}
	return p.inner.Query(ctx, text)
}

func (p *RateLimitedProvider) Healthy(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		return hc.Healthy(ctx)
	}
	return nil
}

var (
	_ domain.AnswerProvider = (*RateLimitedProvider)(nil)
	_ domain.HealthChecker  = (*RateLimitedProvider)(nil)
)
