package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/retry"
)

// WeComNotifier 推送到企业微信群机器人。Webhook 未配置时跳过发送。
type WeComNotifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func NewWeComNotifier(webhookURL string, logger *slog.Logger) *WeComNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WeComNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: notifyTimeout},
		logger:     logger,
	}
}

type wecomTextMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

func (n *WeComNotifier) Send(ctx context.Context, rec *Recommendation) error {
	if n.webhookURL == "" {
		n.logger.Warn("企业微信机器人未配置, 跳过通知")
		return nil
	}

	var msg wecomTextMessage
	msg.MsgType = "text"
	msg.Text.Content = buildTitle(rec) + "\n" + buildMessage(rec)

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal wecom payload: %w", err)
	}

	err = retry.Do(ctx, notifyRetries, notifyInterval, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build wecom request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("post wecom: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("post wecom: unexpected status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return err
	}

	n.logger.Info("企业微信通知已发送", slog.String("title", rec.Title))
	return nil
}
