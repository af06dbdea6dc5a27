package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
)

// EmailNotifier 实现邮件通知。SMTP 配置不全时跳过发送。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// Send 发送邮件通知。
func (n *EmailNotifier) Send(ctx context.Context, rec *Recommendation) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		n.logger.Warn("邮件配置不全, 跳过通知")
		return nil
	}
	if strings.TrimSpace(n.cfg.ToEmail) == "" {
		n.logger.Warn("收件人为空, 跳过通知")
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", n.cfg.ToEmail)
	m.SetHeader("Subject", buildTitle(rec))
	m.SetBody("text/html", n.buildHTMLBody(rec))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("邮件通知已发送", slog.String("to", n.cfg.ToEmail), slog.String("title", rec.Title))
	return nil
}

func (n *EmailNotifier) buildHTMLBody(rec *Recommendation) string {
	link := rec.PCLink
	mobileRow := ""
	if rec.MobileLink != "" {
		mobileRow = fmt.Sprintf(`<div style="margin-bottom: 8px;"><a href="%s">手机端打开</a></div>`, rec.MobileLink)
	}

	template := `
<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8" />
<style>
  body { font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937; }
  .card { max-width: 600px; margin: 24px auto; background: #ffffff; border-radius: 12px; overflow: hidden; border: 1px solid #e5e7eb; }
  .header { background: #0f172a; color: #ffffff; padding: 16px 20px; font-size: 16px; font-weight: bold; }
  .content { padding: 20px; }
  .hero img { width: 100%%; max-width: 520px; display: block; margin: 0 auto 16px; border-radius: 8px; }
  .price { font-size: 26px; font-weight: bold; color: #ef4444; margin: 8px 0 12px; }
  .title { font-size: 16px; margin-bottom: 12px; }
  .reason { font-size: 14px; color: #374151; margin-bottom: 16px; }
  .cta { display: inline-block; padding: 12px 20px; background: #22c55e; color: #fff; text-decoration: none; border-radius: 8px; font-weight: bold; }
  .footer { margin-top: 20px; font-size: 12px; color: #6b7280; }
</style>
</head>
<body>
  <div class="card">
    <div class="header">🚨 闲鱼捡漏提醒</div>
    <div class="content">
      <div class="hero"><img src="%s" alt="Item Image" /></div>
      <div class="price">%s</div>
      <div class="title">%s</div>
      <div class="reason">推荐理由: %s</div>
      %s
      <div style="text-align:center; margin-bottom: 12px;">
        <a class="cta" href="%s" target="_blank">去闲鱼看看</a>
      </div>
      <div class="footer">触发关键词: %s</div>
    </div>
  </div>
</body>
</html>`

	return fmt.Sprintf(template, rec.ImageURL, rec.Price, rec.Title, rec.Reason, mobileRow, link, rec.Keyword)
}
