package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenBlocks(t *testing.T) {
	limiter := NewRateLimiter(nil, 10, 1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("blocked acquire: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond {
		t.Fatalf("expected blocking, elapsed=%v", elapsed)
	}
}

func TestRateLimiter_ContextTimeout(t *testing.T) {
	limiter := NewRateLimiter(nil, 1, 1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx)
	if !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestRateLimiter_DisabledAlwaysAllows(t *testing.T) {
	limiter := NewRateLimiter(nil, 0, 0)
	for i := 0; i < 100; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("disabled limiter should always allow, got %v", err)
		}
	}
	if !limiter.Allow() {
		t.Fatalf("disabled limiter Allow should be true")
	}
}

func TestRateLimiter_AllowConsumesToken(t *testing.T) {
	limiter := NewRateLimiter(nil, 1, 1)
	if !limiter.Allow() {
		t.Fatalf("expected first Allow to pass")
	}
	if limiter.Allow() {
		t.Fatalf("expected second Allow to fail before refill")
	}
}
