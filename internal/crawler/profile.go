package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/tidwall/gjson"

	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/delay"
)

const (
	profileNavTimeout      = 20 * time.Second
	headResponseTimeout    = 15 * time.Second
	listResponseTimeout    = 8 * time.Second
	ratingsResponseTimeout = 20 * time.Second
	ratingsTabFindTimeout  = 5 * time.Second

	// 列表翻页的安全上限, 防止接口一直返回 nextPage=true 时死循环
	maxListPages = 30
)

// collectCards 从列表接口响应中取出卡片与翻页标记。
func collectCards(body []byte) (cards []gjson.Result, hasNext bool) {
	data := gjson.GetBytes(body, "data")
	return data.Get("cardList").Array(), data.Get("nextPage").Bool()
}

// scrapeUserProfile 打开卖家主页, 聚合头部信息、在售/已售商品与收到的评价。
// 头部接口超时视为失败; 列表接口超时视为已经加载完, 不算错误。
func (s *Service) scrapeUserProfile(ctx context.Context, userID string) (*model.SellerInfo, error) {
	page, err := s.newPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("打开卖家主页标签页失败: %w", err)
	}
	defer page.Close()

	c := newResponseCorrelator(page, s.logger)
	defer c.Close()

	// 头部与第一页商品列表随页面加载一起返回, 必须在导航前注册
	headFuture := c.Expect(apiUserHead)
	itemsFuture := c.Expect(apiUserItems)

	url := ProfileURL(userID)
	if err := page.Timeout(profileNavTimeout).Navigate(url); err != nil {
		return nil, fmt.Errorf("打开卖家主页失败: %w", err)
	}
	if err := page.Timeout(profileNavTimeout).WaitLoad(); err != nil {
		s.logPageTimeout("profile_load", userID, url, page, err)
	}

	headBody, err := headFuture.Wait(ctx, headResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("等待卖家主页头部接口失败: %w", err)
	}
	info := ParseUserHead(headBody)

	if err := s.pause(ctx, delay.ProfileFirstLoad); err != nil {
		return nil, err
	}

	itemCards, err := s.collectListPages(ctx, page, c, apiUserItems, itemsFuture, listResponseTimeout)
	if err != nil {
		return nil, err
	}
	info.SellerPublishedItems = ParseUserItems(itemCards)
	s.logger.Info("卖家商品列表抓取完成",
		slog.String("user_id", userID),
		slog.Int("items", len(info.SellerPublishedItems)))

	rateCards, err := s.collectRatings(ctx, page, c, userID)
	if err != nil {
		return nil, err
	}
	info.SellerReceivedRatings = ParseRatings(rateCards)
	info.PositiveReviewsAsSeller, info.PositiveRateAsSeller,
		info.PositiveReviewsAsBuyer, info.PositiveRateAsBuyer = ComputeReputation(rateCards)

	return info, nil
}

// collectRatings 切到 "信用及评价" tab 并滚动收集全部评价卡片。
// tab 不存在时跳过, 返回空列表。
func (s *Service) collectRatings(ctx context.Context, page *rod.Page, c *responseCorrelator, userID string) ([]gjson.Result, error) {
	tab, err := page.Timeout(ratingsTabFindTimeout).ElementX(
		"//div[text()='信用及评价' or text()='Credit & Reviews']/ancestor::li")
	if err != nil {
		s.logger.Info("卖家主页没有评价 tab, 跳过评价抓取", slog.String("user_id", userID))
		return nil, nil
	}

	first := c.Expect(apiUserRatings)
	if err := tab.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("点击评价 tab 失败: %w", err)
	}
	if err := s.pause(ctx, delay.AfterRatingsTab); err != nil {
		return nil, err
	}

	return s.collectListPages(ctx, page, c, apiUserRatings, first, ratingsResponseTimeout)
}

// collectListPages 反复滚动到页底触发懒加载, 收集列表接口的全部卡片。
// firstTimeout 只用于第一页, 后续翻页统一用较短的超时。
func (s *Service) collectListPages(ctx context.Context, page *rod.Page, c *responseCorrelator,
	urlPart string, first *ResponseFuture, firstTimeout time.Duration) ([]gjson.Result, error) {

	var all []gjson.Result
	future := first
	timeout := firstTimeout

	for i := 0; i < maxListPages; i++ {
		body, found, err := future.WaitResult(ctx, timeout)
		if err != nil {
			return nil, err
		}
		if !found {
			// 超时意味着没有新数据了
			s.logger.Debug("列表接口无新响应, 视为加载完毕",
				slog.String("api", urlPart), slog.Int("pages", i))
			break
		}

		cards, hasNext := collectCards(body)
		all = append(all, cards...)
		if !hasNext {
			break
		}

		future = c.Expect(urlPart)
		timeout = listResponseTimeout
		if err := scrollToBottom(page); err != nil {
			s.logger.Warn("滚动页面失败", slog.String("error", err.Error()))
			break
		}
	}
	return all, nil
}

func scrollToBottom(page *rod.Page) error {
	_, err := page.Eval("() => window.scrollTo(0, document.body.scrollHeight)")
	return err
}
