package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/dedup"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/delay"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
)

const (
	searchNavTimeout      = 60 * time.Second
	searchResponseTimeout = 30 * time.Second
	sortMarkerTimeout     = 15 * time.Second
	adPopupTimeout        = 3 * time.Second
	filterClickTimeout    = 8 * time.Second
	paginationTimeout     = 5 * time.Second
	detailNavTimeout      = 25 * time.Second
	detailResponseTimeout = 25 * time.Second
)

// runSearchTask 执行一个监控任务: 打开搜索页、套用筛选、逐页处理商品。
// 返回本次处理的新商品数。命中风控时返回 errBlocked, 调用方不再重试。
func (s *Service) runSearchTask(ctx context.Context, task *model.Task) (int, error) {
	promptText := config.BuildPromptText(s.logger, task)
	name := task.DisplayName()

	// 每个任务只认自己关键词的历史文件, 任务之间不共享去重状态
	seen := dedup.NewDeduplicator(s.logger)
	historyFile := s.store.FileFor(task.Keyword)
	if n, err := seen.LoadFromFile(historyFile); err != nil {
		s.logger.Warn("加载历史记录文件失败",
			slog.String("task", name),
			slog.String("file", historyFile),
			slog.String("error", err.Error()))
	} else {
		s.logger.Info("历史记录加载完成",
			slog.String("task", name), slog.Int("links", n))
	}

	page, err := s.newPage(ctx)
	if err != nil {
		return 0, fmt.Errorf("创建搜索页失败: %w", err)
	}
	defer page.Close()

	c := newResponseCorrelator(page, s.logger)
	defer c.Close()

	body, err := s.openSearchPage(ctx, page, c, task)
	if errors.Is(err, errNoResults) {
		s.logger.Info("没有找到相关商品, 任务结束", slog.String("task", name))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return s.crawlPages(ctx, task, promptText, seen, body,
		func(ctx context.Context) ([]byte, bool, error) {
			return s.nextSearchPage(ctx, page, c)
		},
		func() bool {
			return s.checkBaxiaCaptcha(page)
		})
}

// crawlPages 逐页解析搜索响应并处理其中的商品。
// turn 翻到下一页, ok=false 表示没有更多分页; blocked 检查当前页是否被风控拦截。
// 某页解析不出任何商品时结束列表抓取, 不算错误。
func (s *Service) crawlPages(ctx context.Context, task *model.Task, promptText string,
	seen *dedup.Deduplicator, firstBody []byte,
	turn func(context.Context) ([]byte, bool, error), blocked func() bool) (int, error) {

	name := task.DisplayName()
	maxPages := task.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	body := firstBody
	processed := 0
	for pageNum := 1; pageNum <= maxPages; pageNum++ {
		if pageNum > 1 {
			if err := s.pause(ctx, delay.BetweenPages); err != nil {
				return processed, err
			}
			next, ok, err := turn(ctx)
			if err != nil {
				return processed, err
			}
			if !ok {
				s.logger.Info("没有更多分页, 任务提前结束",
					slog.String("task", name), slog.Int("page", pageNum))
				break
			}
			body = next
		}

		if blocked() {
			return processed, errBlocked
		}

		items := ParseSearchResults(body, s.logger)
		metrics.PagesCrawledTotal.WithLabelValues(name).Inc()
		metrics.ItemsSeenTotal.WithLabelValues(name).Add(float64(len(items)))
		if len(items) == 0 {
			s.logger.Info("当前页没有解析出商品, 结束列表抓取",
				slog.String("task", name), slog.Int("page", pageNum))
			break
		}
		s.logger.Info("开始处理搜索结果页",
			slog.String("task", name),
			slog.Int("page", pageNum),
			slog.Int("items", len(items)))

		for _, info := range items {
			if s.debugLimit > 0 && processed >= s.debugLimit {
				s.logger.Info("达到调试上限, 提前结束任务",
					slog.String("task", name), slog.Int("limit", s.debugLimit))
				return processed, nil
			}
			handled, err := s.handleItem(ctx, task, promptText, info, seen)
			// 商品已完整落盘时, 即使收尾等待被打断也要计数
			if handled {
				processed++
				metrics.ItemsProcessedTotal.WithLabelValues(name).Inc()
			}
			if err != nil {
				return processed, err
			}
		}
	}
	return processed, nil
}

// openSearchPage 打开关键词搜索页并套用排序与筛选条件。
// 每次筛选都会触发一次新的搜索请求, 返回最后一次响应作为第一页数据。
func (s *Service) openSearchPage(ctx context.Context, page *rod.Page, c *responseCorrelator, task *model.Task) ([]byte, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	name := task.DisplayName()
	first := c.Expect(apiSearch)
	url := SearchURL(task.Keyword)
	if err := page.Timeout(searchNavTimeout).Navigate(url); err != nil {
		return nil, fmt.Errorf("打开搜索页失败: %w", err)
	}
	body, err := first.Wait(ctx, searchResponseTimeout)
	if err != nil {
		s.logPageTimeout("search_load", name, url, page, err)
		return nil, err
	}

	// 等排序栏渲染出来再继续, 渲染不出来要么是空结果页, 要么是被风控拦了
	if _, err := page.Timeout(sortMarkerTimeout).ElementX("//*[text()='新发布']"); err != nil {
		s.logPageTimeout("sort_marker", name, url, page, err)
		if s.checkBaxiaCaptcha(page) {
			return nil, errBlocked
		}
		switch s.classifyStalledSearchPage(page) {
		case searchPageBlocked:
			metrics.BlockEventsTotal.WithLabelValues("blocked_page").Inc()
			return nil, errBlocked
		case searchPageNoItems:
			return nil, errNoResults
		}
		return nil, fmt.Errorf("搜索页排序栏未出现: %w", err)
	}
	if s.checkBaxiaCaptcha(page) {
		return nil, errBlocked
	}

	s.closeAdPopup(page)

	if b, err := s.clickWithResponse(ctx, page, c, "//*[text()='新发布']", delay.AfterSortApply); err != nil {
		return nil, fmt.Errorf("应用最新排序失败: %w", err)
	} else {
		body = b
	}

	if task.PersonalOnly {
		if b, err := s.clickWithResponse(ctx, page, c, "//*[text()='个人闲置']", delay.AfterFilterApply); err != nil {
			return nil, fmt.Errorf("应用个人闲置筛选失败: %w", err)
		} else {
			body = b
		}
	}

	if task.MinPrice != "" || task.MaxPrice != "" {
		b, err := s.applyPriceFilter(ctx, page, c, task)
		if err != nil {
			return nil, fmt.Errorf("应用价格筛选失败: %w", err)
		}
		body = b
	}

	return body, nil
}

// clickWithResponse 点击元素并等待它触发的搜索请求返回。
func (s *Service) clickWithResponse(ctx context.Context, page *rod.Page, c *responseCorrelator,
	xpath string, wait delay.Range) ([]byte, error) {

	el, err := page.Timeout(filterClickTimeout).ElementX(xpath)
	if err != nil {
		return nil, fmt.Errorf("查找元素 %s 失败: %w", xpath, err)
	}

	f := c.Expect(apiSearch)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("点击元素失败: %w", err)
	}
	body, err := f.Wait(ctx, searchResponseTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.pause(ctx, wait); err != nil {
		return nil, err
	}
	return body, nil
}

// applyPriceFilter 在价格输入框填入区间并按 Tab 触发刷新。
func (s *Service) applyPriceFilter(ctx context.Context, page *rod.Page, c *responseCorrelator, task *model.Task) ([]byte, error) {
	container, err := page.Timeout(filterClickTimeout).Element("div[class*='search-price-input-container']")
	if err != nil {
		return nil, fmt.Errorf("查找价格输入区失败: %w", err)
	}
	inputs, err := container.Elements("input")
	if err != nil || len(inputs) < 2 {
		return nil, fmt.Errorf("价格输入框数量不足")
	}

	if task.MinPrice != "" {
		if err := inputs[0].Input(task.MinPrice); err != nil {
			return nil, fmt.Errorf("输入最低价失败: %w", err)
		}
		if err := s.pause(ctx, delay.AfterPriceInput); err != nil {
			return nil, err
		}
	}
	if task.MaxPrice != "" {
		if err := inputs[1].Input(task.MaxPrice); err != nil {
			return nil, fmt.Errorf("输入最高价失败: %w", err)
		}
		if err := s.pause(ctx, delay.AfterPriceInput); err != nil {
			return nil, err
		}
	}

	f := c.Expect(apiSearch)
	if err := page.Keyboard.Press(input.Tab); err != nil {
		return nil, fmt.Errorf("触发价格筛选失败: %w", err)
	}
	body, err := f.Wait(ctx, searchResponseTimeout)
	if err != nil {
		return nil, err
	}
	if err := s.pause(ctx, delay.AfterFilterApply); err != nil {
		return nil, err
	}
	return body, nil
}

// closeAdPopup 关闭搜索页偶尔出现的活动弹窗, 没有弹窗时静默返回。
func (s *Service) closeAdPopup(page *rod.Page) {
	el, err := page.Timeout(adPopupTimeout).Element("div[class*='closeIconBg']")
	if err != nil {
		return
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		s.logger.Debug("关闭广告弹窗失败", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("已关闭搜索页广告弹窗")
}

// nextSearchPage 点击下一页箭头并等待新的搜索响应。
// 箭头不存在或已禁用时返回 ok=false, 表示没有更多分页。
func (s *Service) nextSearchPage(ctx context.Context, page *rod.Page, c *responseCorrelator) ([]byte, bool, error) {
	arrow, err := page.Timeout(paginationTimeout).Element("[class*='search-pagination-arrow-right']:not([disabled])")
	if err != nil {
		return nil, false, nil
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, false, err
	}

	f := c.Expect(apiSearch)
	if err := arrow.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, false, fmt.Errorf("点击下一页失败: %w", err)
	}
	body, err := f.Wait(ctx, searchResponseTimeout)
	if err != nil {
		return nil, false, err
	}
	if err := s.pause(ctx, delay.AfterNextPage); err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// fetchDetailPage 在新标签页中打开商品并截取详情接口响应。
func (s *Service) fetchDetailPage(ctx context.Context, link string) ([]byte, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	page, err := s.newPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("创建详情页失败: %w", err)
	}
	defer page.Close()

	c := newResponseCorrelator(page, s.logger)
	defer c.Close()

	f := c.Expect(apiDetail)
	if err := page.Timeout(detailNavTimeout).Navigate(link); err != nil {
		return nil, fmt.Errorf("打开商品详情失败: %w", err)
	}
	return f.Wait(ctx, detailResponseTimeout)
}
