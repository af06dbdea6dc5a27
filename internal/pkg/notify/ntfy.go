package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/retry"
)

const (
	notifyTimeout  = 10 * time.Second
	notifyRetries  = 3
	notifyInterval = 5 * time.Second
)

// NtfyNotifier 推送到 ntfy 主题。URL 未配置时跳过发送。
type NtfyNotifier struct {
	topicURL string
	client   *http.Client
	logger   *slog.Logger
}

func NewNtfyNotifier(topicURL string, logger *slog.Logger) *NtfyNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &NtfyNotifier{
		topicURL: topicURL,
		client:   &http.Client{Timeout: notifyTimeout},
		logger:   logger,
	}
}

func (n *NtfyNotifier) Send(ctx context.Context, rec *Recommendation) error {
	if n.topicURL == "" {
		n.logger.Warn("ntfy 未配置, 跳过通知")
		return nil
	}

	title := buildTitle(rec)
	message := buildMessage(rec)

	err := retry.Do(ctx, notifyRetries, notifyInterval, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.topicURL, strings.NewReader(message))
		if err != nil {
			return fmt.Errorf("build ntfy request: %w", err)
		}
		req.Header.Set("Title", title)
		req.Header.Set("Priority", "urgent")
		req.Header.Set("Tags", "bell,vibration")

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("post ntfy: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("post ntfy: unexpected status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return err
	}

	n.logger.Info("ntfy 通知已发送", slog.String("title", rec.Title))
	return nil
}
