package notify

import (
	"context"
	"log/slog"

	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
)

// Fanout 把一条推荐广播到多个渠道。渠道之间相互隔离,
// 单个渠道失败只记录日志, 不影响其他渠道, 也不向上返回错误。
type Fanout struct {
	channels map[string]Notifier
	logger   *slog.Logger
}

func NewFanout(logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		channels: make(map[string]Notifier),
		logger:   logger,
	}
}

// Register 注册一个通知渠道。
func (f *Fanout) Register(name string, n Notifier) {
	f.channels[name] = n
}

// Send 依次向所有渠道发送。
func (f *Fanout) Send(ctx context.Context, rec *Recommendation) error {
	if len(f.channels) == 0 {
		f.logger.Warn("未配置任何通知渠道, 跳过通知")
		return nil
	}
	for name, ch := range f.channels {
		if err := ch.Send(ctx, rec); err != nil {
			metrics.NotifySentTotal.WithLabelValues(name, "error").Inc()
			f.logger.Error("通知渠道发送失败",
				slog.String("channel", name),
				slog.String("error", err.Error()))
			continue
		}
		metrics.NotifySentTotal.WithLabelValues(name, "ok").Inc()
	}
	return nil
}
