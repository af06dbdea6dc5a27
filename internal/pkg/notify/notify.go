// Package notify 把 AI 推荐的商品推送到 ntfy、企业微信与邮件渠道。
package notify

import (
	"context"
	"fmt"
)

// Recommendation 一条待推送的推荐。
type Recommendation struct {
	Title      string // 商品标题
	Price      string // 当前售价
	Reason     string // AI 给出的推荐理由
	PCLink     string // 电脑端商品链接
	MobileLink string // 手机端跳转链接, 为空时只推电脑端链接
	ImageURL   string // 主图链接, 邮件渠道使用
	Keyword    string // 触发任务的关键词
}

// Notifier 定义通知接口。
type Notifier interface {
	// Send 发送一条推荐通知。
	//
	// 参数:
	//   ctx: 上下文
	//   rec: 推荐内容
	Send(ctx context.Context, rec *Recommendation) error
}

// buildTitle 生成通知标题, 商品标题只保留前 30 个字符。
func buildTitle(rec *Recommendation) string {
	title := []rune(rec.Title)
	if len(title) > 30 {
		title = title[:30]
	}
	return fmt.Sprintf("🚨 New Recommendation! %s...", string(title))
}

// buildMessage 生成通知正文。配置了手机端链接时两条链接都带上。
func buildMessage(rec *Recommendation) string {
	if rec.MobileLink != "" {
		return fmt.Sprintf("Price: %s\nReason: %s\nMobile Link: %s\nPC Link: %s",
			rec.Price, rec.Reason, rec.MobileLink, rec.PCLink)
	}
	return fmt.Sprintf("Price: %s\nReason: %s\nLink: %s", rec.Price, rec.Reason, rec.PCLink)
}
