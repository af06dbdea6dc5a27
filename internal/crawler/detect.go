package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"

	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
)

const (
	baxiaCheckTimeout      = 2 * time.Second
	pageTextCheckTimeout   = 5 * time.Second
	debugDiagTimeout       = 5 * time.Second
	debugScreenshotTimeout = 10 * time.Second
)

// 页面检测关键词
var (
	noItemsHints = []string{
		"没有找到相关宝贝",
		"暂无搜索结果",
		"换个关键词试试",
	}
	blockedHints = []string{
		"baxia",
		"验证码",
		"安全验证",
		"拖动滑块",
		"异常流量",
		"访问受限",
		"fail_sys_user_validate",
		"punish",
		"captcha",
	}
)

// containsAny 检查文本是否包含任意一个关键词
func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// checkBaxiaCaptcha 检测页面上是否弹出了阿里 baxia 滑块验证遮罩。
// 遮罩出现意味着当前会话已被风控盯上, 调用方应立即终止本任务。
func (s *Service) checkBaxiaCaptcha(page *rod.Page) bool {
	p := page.Timeout(baxiaCheckTimeout)
	el, err := p.Element("div.baxia-dialog-mask")
	if err != nil || el == nil {
		return false
	}
	visible, err := el.Visible()
	if err != nil {
		return false
	}
	if visible {
		metrics.BlockEventsTotal.WithLabelValues("baxia_captcha").Inc()
		s.logger.Warn("检测到 baxia 滑块验证遮罩, 会话已被风控标记")
	}
	return visible
}

// getPageBodyText 获取页面 body 文本（带超时保护）
func (s *Service) getPageBodyText(page *rod.Page) string {
	p := page.Timeout(pageTextCheckTimeout)
	body, err := p.Element("body")
	if err != nil {
		return ""
	}
	text, err := body.Text()
	if err != nil {
		return ""
	}
	return text
}

// searchPageState 搜索页停滞（排序栏渲染超时）后的页面判定结果。
type searchPageState int

const (
	searchPageUnknown searchPageState = iota
	searchPageNoItems // 关键词没有任何结果, 页面走了空态分支
	searchPageBlocked // 风控拦截、惩罚页或空白页
)

// classifySearchPage 根据页面标题、地址和 body 文本判定停滞原因。
func classifySearchPage(title, url, bodyText string) searchPageState {
	lowerTitle := strings.ToLower(title)
	lowerURL := strings.ToLower(url)

	// 空白页通常表示代理或网络问题, 与拦截同等处理
	if (lowerTitle == "about:blank" || lowerTitle == "") &&
		(lowerURL == "about:blank" || lowerURL == "") {
		return searchPageBlocked
	}
	if strings.Contains(lowerURL, "punish") {
		return searchPageBlocked
	}
	if containsAny(strings.ToLower(bodyText), blockedHints) {
		return searchPageBlocked
	}
	if containsAny(bodyText, noItemsHints) {
		return searchPageNoItems
	}
	return searchPageUnknown
}

// classifyStalledSearchPage 采集页面状态后交给 classifySearchPage 判定。
func (s *Service) classifyStalledSearchPage(page *rod.Page) searchPageState {
	diagCtx, diagCancel := context.WithTimeout(context.Background(), pageTextCheckTimeout)
	defer diagCancel()

	title, url := "", ""
	if info, err := page.Context(diagCtx).Info(); err == nil {
		title, url = info.Title, info.URL
	}
	return classifySearchPage(title, url, s.getPageBodyText(page))
}

// detectBlockType 根据页面标题与 HTML 片段判断拦截类型, 用于诊断日志。
func (s *Service) detectBlockType(title, html string) string {
	lowerTitle := strings.ToLower(title)
	lowerHTML := strings.ToLower(html)

	if strings.Contains(lowerHTML, "baxia-dialog") ||
		strings.Contains(lowerHTML, "baxia-punish") ||
		strings.Contains(lowerTitle, "punish") {
		return "baxia_captcha"
	}
	if strings.Contains(lowerHTML, "fail_sys_user_validate") {
		return "user_validate"
	}
	if strings.Contains(lowerHTML, "captcha") ||
		strings.Contains(lowerHTML, "验证码") ||
		strings.Contains(lowerHTML, "安全验证") {
		return "captcha"
	}
	if title == "" || title == "about:blank" {
		if len(html) < 100 {
			return "blank_page"
		}
		return "empty_title"
	}
	if strings.Contains(lowerHTML, "err_connection") ||
		strings.Contains(lowerHTML, "err_proxy") ||
		strings.Contains(lowerHTML, "proxy error") {
		return "connection_error"
	}
	return "unknown"
}

// logPageTimeout 记录页面超时诊断日志
func (s *Service) logPageTimeout(phase, taskName, url string, page *rod.Page, err error) {
	readyState := "unknown"
	pageTitle := "unknown"
	pageHTML := ""
	screenshotPath := ""

	if page != nil {
		// 独立 context, 任务 context 超时后诊断操作仍可执行
		diagCtx, diagCancel := context.WithTimeout(context.Background(), debugDiagTimeout)
		defer diagCancel()
		diagPage := page.Context(diagCtx)

		if v, evalErr := diagPage.Eval("() => document.readyState"); evalErr == nil {
			if state := v.Value.String(); state != "" {
				readyState = state
			}
		}
		if v, evalErr := diagPage.Eval("() => document.title"); evalErr == nil {
			if title := v.Value.String(); title != "" {
				pageTitle = title
			}
		}
		if v, evalErr := diagPage.Eval("() => document.documentElement.outerHTML.substring(0, 2000)"); evalErr == nil {
			pageHTML = v.Value.String()
		}
		screenshotPath = s.saveDebugScreenshot(taskName, phase, page)
	}

	s.logger.Warn("页面操作超时",
		slog.String("phase", phase),
		slog.String("task", taskName),
		slog.String("url", url),
		slog.String("ready_state", readyState),
		slog.String("page_title", pageTitle),
		slog.String("block_type", s.detectBlockType(pageTitle, pageHTML)),
		slog.String("screenshot", screenshotPath),
		slog.String("error", err.Error()))
}

// saveDebugScreenshot 保存调试截图, 返回截图路径。
// 需要通过配置 browser.debug_screenshot=true 或环境变量 BROWSER_DEBUG_SCREENSHOT=true 开启。
func (s *Service) saveDebugScreenshot(taskName, phase string, page *rod.Page) string {
	if !s.cfg.Browser.DebugScreenshot || page == nil {
		return ""
	}

	screenshotDir := filepath.Join("logs", "screenshots")
	if err := os.MkdirAll(screenshotDir, 0755); err != nil {
		s.logger.Warn("创建截图目录失败",
			slog.String("dir", screenshotDir),
			slog.String("error", err.Error()))
		return ""
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(screenshotDir, fmt.Sprintf("%s_%s_%s.png", sanitizeFileName(taskName), phase, timestamp))

	screenshotCtx, cancel := context.WithTimeout(context.Background(), debugScreenshotTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		data, err := page.Screenshot(false, nil)
		if err != nil {
			done <- err
			return
		}
		done <- os.WriteFile(path, data, 0644)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Warn("保存截图失败",
				slog.String("task", taskName),
				slog.String("error", err.Error()))
			return ""
		}
		s.logger.Info("已保存调试截图",
			slog.String("task", taskName),
			slog.String("path", path))
		return path
	case <-screenshotCtx.Done():
		s.logger.Warn("截图超时", slog.String("task", taskName))
		return ""
	}
}

// sanitizeFileName 把任务名转成安全的文件名片段。
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_", " ", "_",
	)
	return replacer.Replace(name)
}

// ============================================================================
// 错误分类
// ============================================================================

// crawlErrorType 爬虫错误类型
type crawlErrorType int

const (
	errTypeUnknown crawlErrorType = iota
	errTypeTimeout
	errTypeBlocked    // 被风控拦截（滑块/人机校验）
	errTypeNetwork    // 网络错误
	errTypeParseError // 解析错误
)

// errBlocked 任务因风控拦截而终止。
var errBlocked = errors.New("blocked by anti-bot check")

// errNoResults 关键词没有任何搜索结果, 任务正常结束。
var errNoResults = errors.New("search returned no results")

// classifyError 统一的错误分类函数
func classifyError(err error) crawlErrorType {
	if err == nil {
		return errTypeUnknown
	}

	if errors.Is(err, errBlocked) {
		return errTypeBlocked
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errTypeTimeout
	}

	msg := strings.ToLower(err.Error())

	blockedKeywords := []string{
		"baxia", "captcha", "fail_sys_user_validate", "punish", "验证",
	}
	for _, kw := range blockedKeywords {
		if strings.Contains(msg, kw) {
			return errTypeBlocked
		}
	}

	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return errTypeTimeout
	}

	networkKeywords := []string{"net::", "connection", "navigate"}
	for _, kw := range networkKeywords {
		if strings.Contains(msg, kw) {
			return errTypeNetwork
		}
	}

	if strings.Contains(msg, "parse") || strings.Contains(msg, "extract") {
		return errTypeParseError
	}

	return errTypeUnknown
}

// classifyCrawlerError 返回用于 metrics 的错误类型字符串
func classifyCrawlerError(err error) string {
	switch classifyError(err) {
	case errTypeTimeout:
		return "timeout"
	case errTypeNetwork:
		return "network_error"
	case errTypeParseError:
		return "parse_error"
	case errTypeBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}
