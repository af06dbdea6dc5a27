package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Do 以固定间隔重试 fn, 最多 attempts 次。
//
// 参数:
//   - ctx: 取消后立即返回 ctx.Err()
//   - attempts: 总尝试次数, 小于 1 时按 1 处理
//   - interval: 两次尝试之间的等待时间
//   - fn: 要执行的操作
//
// 返回值:
//   - error: 全部失败时返回最后一次的错误
func Do(ctx context.Context, attempts int, interval time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i < attempts-1 {
			slog.Warn("操作失败, 等待重试",
				slog.Int("attempt", i+1),
				slog.Int("max_attempts", attempts),
				slog.String("error", lastErr.Error()))
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("重试 %d 次后仍然失败: %w", attempts, lastErr)
}

// DoValue 与 Do 相同, 但返回 fn 的结果值。
func DoValue[T any](ctx context.Context, attempts int, interval time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	var result T
	err := Do(ctx, attempts, interval, func() error {
		var e error
		result, e = fn()
		return e
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}
