package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_ImmediateBurst(t *testing.T) {
	rl := NewRateLimiter(5, 60.0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // 10/sec refill

	ctx := context.Background()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestRateLimitedProvider_CancelledWhileQueued(t *testing.T) {
	inner := &mockProvider{name: "docalysis", answer: "ok"}
	p := NewRateLimitedProvider(inner, NewRateLimiter(1, 1.0))

	if _, err := p.Query(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Query(ctx, "second")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("queued query reached the provider: %d calls", inner.calls)
	}
	if p.Name() != "docalysis" {
		t.Errorf("name = %q", p.Name())
	}
}
