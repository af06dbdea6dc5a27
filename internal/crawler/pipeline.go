package crawler

import (
	"context"
	"log/slog"
	"time"

	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/dedup"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/delay"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/notify"
)

// 处理流水线依赖的外部能力, 抽成接口便于替换。

type recordStore interface {
	Append(keyword string, rec *model.Record) error
	// FileFor 返回关键词对应的历史记录文件路径, 去重集合从这里重建
	FileFor(keyword string) string
}

type itemAnalyzer interface {
	Analyze(ctx context.Context, promptText string, rec *model.Record, imagePaths []string) (model.AIAnalysis, error)
}

type titleFilter interface {
	Passes(ctx context.Context, title string, cfg *model.EmbeddingFilter) bool
}

type imageFetcher interface {
	DownloadAll(ctx context.Context, itemID string, urls []string) []string
}

type recommendationNotifier interface {
	Send(ctx context.Context, rec *notify.Recommendation) error
}

// handleItem 处理搜索结果中的一个商品: 去重、预筛选、抓详情与卖家画像、
// 下载图片、AI 分析、落盘, 命中推荐标准时推送通知。
// seen 是当前任务自己的去重集合, 只由本任务读写。
// 返回该商品是否计入新处理数。详情接口触发人机校验时冷却后返回 errBlocked。
func (s *Service) handleItem(ctx context.Context, task *model.Task, promptText string,
	info *model.ItemInfo, seen *dedup.Deduplicator) (bool, error) {

	if seen.IsDuplicate(info.ItemLink) {
		s.logger.Debug("商品已处理过, 跳过",
			slog.String("item_id", info.ItemID),
			slog.String("title", info.ItemTitle))
		return false, nil
	}

	// 语义预筛选放在抓详情之前, 省掉一次页面访问
	if s.filter != nil && task.EmbeddingFilter != nil &&
		!s.filter.Passes(ctx, info.ItemTitle, task.EmbeddingFilter) {
		s.logger.Info("标题未通过语义预筛选, 跳过",
			slog.String("item_id", info.ItemID),
			slog.String("title", info.ItemTitle))
		seen.Add(info.ItemLink)
		return false, nil
	}

	if err := s.pause(ctx, delay.BeforeDetail); err != nil {
		return false, err
	}

	detailBody, err := s.fetchDetail(ctx, info.ItemLink)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		metrics.CrawlErrorsTotal.WithLabelValues(classifyCrawlerError(err)).Inc()
		s.logger.Warn("抓取商品详情失败, 跳过该商品",
			slog.String("item_id", info.ItemID),
			slog.String("error", err.Error()))
		return false, nil
	}

	if IsValidateBlocked(detailBody) {
		metrics.BlockEventsTotal.WithLabelValues("user_validate").Inc()
		s.logger.Warn("详情接口触发人机校验, 冷却后终止本任务",
			slog.String("item_id", info.ItemID))
		if err := s.pause(ctx, delay.ValidateCooldown); err != nil {
			return false, err
		}
		return false, errBlocked
	}

	// 接口明确报错时没有可用数据, 不落盘也不标记已见, 留到下次运行重试
	if !DetailFetchOK(detailBody) {
		metrics.CrawlErrorsTotal.WithLabelValues("parse_error").Inc()
		s.logger.Warn("详情接口返回异常, 跳过该商品",
			slog.String("item_id", info.ItemID))
		return false, nil
	}

	detail := ParseDetailData(detailBody)
	detail.ApplyDetail(info)
	if err := s.pause(ctx, delay.AfterDetailClose); err != nil {
		return false, err
	}

	seller := s.collectSellerInfo(ctx, info, detail)

	var imagePaths []string
	if s.images != nil {
		imagePaths = s.images.DownloadAll(ctx, info.ItemID, info.ItemImageList)
	}

	rec := &model.Record{
		CrawlTime:     time.Now().Format("2006-01-02T15:04:05"),
		SearchKeyword: task.Keyword,
		TaskName:      task.DisplayName(),
		ItemInfo:      info,
		SellerInfo:    seller,
	}

	if promptText != "" && s.analyzer != nil {
		analysis, err := s.analyzer.Analyze(ctx, promptText, rec, imagePaths)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.logger.Error("AI 分析失败, 记录错误后继续",
				slog.String("item_id", info.ItemID),
				slog.String("error", err.Error()))
			rec.AIAnalysis = model.AIAnalysis{"error": err.Error()}
		} else {
			rec.AIAnalysis = analysis
		}
	}

	if err := s.store.Append(task.Keyword, rec); err != nil {
		s.logger.Error("写入抓取记录失败",
			slog.String("item_id", info.ItemID),
			slog.String("error", err.Error()))
	}

	if rec.AIAnalysis.IsRecommended() {
		s.sendRecommendation(ctx, task, rec)
	}

	seen.Add(info.ItemLink)
	if err := s.pause(ctx, delay.AfterItemDone); err != nil {
		return true, err
	}
	return true, nil
}

// collectSellerInfo 聚合卖家画像。主页抓取失败时退化为搜索页已有的基础信息。
func (s *Service) collectSellerInfo(ctx context.Context, info *model.ItemInfo, detail *DetailData) *model.SellerInfo {
	var seller *model.SellerInfo
	if detail.SellerID != "" && s.scrapeProfile != nil {
		p, err := s.scrapeProfile(ctx, detail.SellerID)
		if err != nil {
			metrics.CrawlErrorsTotal.WithLabelValues(classifyCrawlerError(err)).Inc()
			s.logger.Warn("抓取卖家主页失败, 仅保留基础卖家信息",
				slog.String("seller_id", detail.SellerID),
				slog.String("error", err.Error()))
		} else {
			seller = p
		}
	}
	if seller == nil {
		seller = &model.SellerInfo{
			SellerNickname: info.SellerNickname,
			SellerCredit:   notAvailable,
			BuyerCredit:    notAvailable,
		}
	}
	seller.SellerZhimaCredit = detail.ZhimaCredit
	seller.SellerRegistrationDuration = FormatRegistrationDays(detail.RegistrationDays)
	return seller
}

// sendRecommendation 把命中推荐的商品推到所有已配置的通知渠道。
func (s *Service) sendRecommendation(ctx context.Context, task *model.Task, rec *model.Record) {
	if s.notifier == nil {
		return
	}
	info := rec.ItemInfo
	r := &notify.Recommendation{
		Title:    info.ItemTitle,
		Price:    info.CurrentPrice,
		Reason:   rec.AIAnalysis.Reason(),
		PCLink:   info.ItemLink,
		ImageURL: info.ItemMainImageLink,
		Keyword:  task.Keyword,
	}
	if s.cfg.Notify.PCURLToMobile {
		if mobile := MobileLink(info.ItemLink); mobile != info.ItemLink {
			r.MobileLink = mobile
		}
	}
	if err := s.notifier.Send(ctx, r); err != nil {
		s.logger.Warn("推送通知失败",
			slog.String("item_id", info.ItemID),
			slog.String("error", err.Error()))
	}
}
