// Package ratelimit 控制对目标站点的请求节奏。
package ratelimit

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/time/rate"
)

var ErrRateLimitTimeout = errors.New("rate limit wait timeout")

// RateLimiter 是进程内的令牌桶限流器。
// rate 为每秒放行的请求数, burst 为突发容量。
// rate 或 burst 不为正时限流器禁用, Acquire 直接放行。
type RateLimiter struct {
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewRateLimiter(logger *slog.Logger, r float64, burst int) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if r <= 0 || burst <= 0 {
		return &RateLimiter{logger: logger}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(r), burst),
		logger:  logger,
	}
}

// Acquire 阻塞直到获得一个令牌。ctx 取消时返回 ErrRateLimitTimeout。
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil || r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return ErrRateLimitTimeout
	}
	return nil
}

// Allow 非阻塞地尝试获得一个令牌。
func (r *RateLimiter) Allow() bool {
	if r == nil || r.limiter == nil {
		return true
	}
	return r.limiter.Allow()
}
