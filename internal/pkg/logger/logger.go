package logger

import (
	"log/slog"
	"os"
	"strings"
)

// NewDefault 创建默认的结构化日志器, 输出到标准输出。
// level 支持 debug/info/warn/error, 无法识别时回落到 info。
func NewDefault(level string) *slog.Logger {
	h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(h)
}

// NewJSON 创建 JSON 格式的日志器, 便于日志采集系统解析。
func NewJSON(level string) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(h)
}

// ParseLevel 将字符串日志级别转换为 slog.Level。
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
