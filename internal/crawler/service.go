package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/dingyufei615/ai-goofish-monitor/internal/ai"
	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/delay"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/notify"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/queue"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/ratelimit"
	"github.com/dingyufei615/ai-goofish-monitor/internal/storage"
)

const (
	pageCreateTimeout    = 10 * time.Second // 页面创建超时
	stealthScriptTimeout = 5 * time.Second  // Stealth 脚本应用超时
)

// 常见的 Edge 安装路径, 配置 use_edge 但未指定 bin_path 时依次探测。
var edgeBinPaths = []string{
	"/usr/bin/microsoft-edge",
	"/usr/bin/microsoft-edge-stable",
	"/opt/microsoft/msedge/msedge",
	"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
	`C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
}

// Service 负责浏览器调度与监控任务的执行。
//
// 它维护一个带登录态的 rod.Browser 实例, 所有启用的任务并发执行,
// 每个任务使用独立的标签页。
type Service struct {
	cfg     *config.Config
	logger  *slog.Logger
	browser *rod.Browser
	cleanup func()

	limiter   *ratelimit.RateLimiter
	store     recordStore
	imagePool *queue.Queue
	images    imageFetcher
	analyzer  itemAnalyzer
	filter    titleFilter
	notifier  recommendationNotifier

	// 每个任务最多处理的新商品数, 0 表示不限制
	debugLimit int

	// 浏览器相关的两步抓取与节奏控制, 拆成函数字段便于替换
	fetchDetail   func(ctx context.Context, link string) ([]byte, error)
	scrapeProfile func(ctx context.Context, userID string) (*model.SellerInfo, error)
	pause         func(ctx context.Context, r delay.Range) error

	stats crawlerStats
}

// crawlerStats 任务执行统计
type crawlerStats struct {
	TasksRun       atomic.Int64
	TasksFailed    atomic.Int64
	ItemsProcessed atomic.Int64
}

// ServiceStats 统计快照
type ServiceStats struct {
	TasksRun       int64
	TasksFailed    int64
	ItemsProcessed int64
}

// NewService 启动浏览器、注入登录态并组装抓取流水线。
//
// 参数:
//
//	ctx: 上下文, 贯穿浏览器的整个生命周期
//	cfg: 配置对象
//	logger: 日志记录器
//
// 返回值:
//
//	*Service: 初始化完成的服务实例
//	error: 浏览器启动或登录态注入失败时返回错误
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	browser, cleanup, err := startBrowser(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := ApplyLoginState(browser, cfg.Paths.StateFile); err != nil {
		_ = browser.Close()
		cleanup()
		return nil, err
	}
	metrics.BrowserActive.Inc()

	store := storage.NewStore(cfg.Paths.DataDir, logger)

	pool := queue.NewQueue(logger, cfg.App.ImageWorkers, cfg.App.ImageQueueSize)
	pool.Start(ctx)

	s := &Service{
		cfg:        cfg,
		logger:     logger,
		browser:    browser,
		cleanup:    cleanup,
		limiter:    ratelimit.NewRateLimiter(logger, cfg.App.RateLimit, cfg.App.RateBurst),
		store:      store,
		imagePool:  pool,
		images:     storage.NewImageDownloader(cfg.Paths.ImagesDir, cfg.Browser.ProxyURL, pool, logger),
		debugLimit: cfg.App.DebugLimit,
	}

	if err := cfg.ValidateAI(); err != nil {
		logger.Warn("AI 配置不完整, 跳过 AI 分析与语义预筛选",
			slog.String("reason", err.Error()))
	} else {
		s.analyzer = ai.NewAnalyzer(cfg, logger)
		s.filter = ai.NewEmbeddingFilter(cfg, logger)
	}

	s.notifier = buildNotifier(cfg, logger)
	s.fetchDetail = s.fetchDetailPage
	s.scrapeProfile = s.scrapeUserProfile
	s.pause = delay.Sleep
	return s, nil
}

// buildNotifier 按配置组装通知渠道。
func buildNotifier(cfg *config.Config, logger *slog.Logger) recommendationNotifier {
	f := notify.NewFanout(logger)
	registered := 0
	if cfg.Notify.NtfyTopicURL != "" {
		f.Register("ntfy", notify.NewNtfyNotifier(cfg.Notify.NtfyTopicURL, logger))
		registered++
	}
	if cfg.Notify.WeComBotURL != "" {
		f.Register("wecom", notify.NewWeComNotifier(cfg.Notify.WeComBotURL, logger))
		registered++
	}
	if cfg.Email.SMTPHost != "" && cfg.Email.ToEmail != "" {
		f.Register("email", notify.NewEmailNotifier(&cfg.Email, logger))
		registered++
	}
	if registered == 0 {
		logger.Warn("未配置任何通知渠道, 推荐结果只落盘不推送")
	}
	return f
}

// Run 加载任务配置并发执行所有启用的任务, 全部结束后返回。
func (s *Service) Run(ctx context.Context) error {
	tasks, err := config.LoadTasks(s.cfg.Paths.TasksFile)
	if err != nil {
		return fmt.Errorf("加载任务配置失败: %w", err)
	}

	var enabled []model.Task
	for _, t := range tasks {
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}
	if len(enabled) == 0 {
		s.logger.Warn("没有启用的监控任务")
		return nil
	}
	s.logger.Info("开始执行监控任务",
		slog.Int("total", len(tasks)), slog.Int("enabled", len(enabled)))

	var wg sync.WaitGroup
	for i := range enabled {
		task := enabled[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runTask(ctx, &task)
		}()
	}
	wg.Wait()

	st := s.Stats()
	s.logger.Info("全部任务执行结束",
		slog.Int64("tasks_run", st.TasksRun),
		slog.Int64("tasks_failed", st.TasksFailed),
		slog.Int64("items_processed", st.ItemsProcessed))
	return nil
}

// runTask 带 panic 保护地执行单个任务并记录小结。
func (s *Service) runTask(ctx context.Context, task *model.Task) {
	name := task.DisplayName()
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()
	s.stats.TasksRun.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.stats.TasksFailed.Add(1)
			metrics.CrawlErrorsTotal.WithLabelValues("panic").Inc()
			s.logger.Error("任务发生 panic",
				slog.String("task", name), slog.Any("panic", r))
		}
	}()

	start := time.Now()
	processed, err := s.runSearchTask(ctx, task)
	s.stats.ItemsProcessed.Add(int64(processed))

	switch {
	case errors.Is(err, errBlocked):
		s.stats.TasksFailed.Add(1)
		s.logger.Error("任务因风控拦截终止",
			slog.String("task", name), slog.Int("processed", processed))
	case err != nil:
		s.stats.TasksFailed.Add(1)
		metrics.CrawlErrorsTotal.WithLabelValues(classifyCrawlerError(err)).Inc()
		s.logger.Error("任务执行失败",
			slog.String("task", name),
			slog.Int("processed", processed),
			slog.String("error", err.Error()))
	default:
		s.logger.Info("任务执行完成",
			slog.String("task", name),
			slog.Int("processed", processed),
			slog.Duration("elapsed", time.Since(start)))
	}
}

// Stats 返回统计快照。
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		TasksRun:       s.stats.TasksRun.Load(),
		TasksFailed:    s.stats.TasksFailed.Load(),
		ItemsProcessed: s.stats.ItemsProcessed.Load(),
	}
}

// Shutdown 按依赖顺序关闭: 先等图片下载队列清空, 再关浏览器。
func (s *Service) Shutdown() {
	if s.imagePool != nil {
		s.imagePool.Shutdown()
	}
	if s.browser != nil {
		_ = s.browser.Close()
		metrics.BrowserActive.Dec()
	}
	if s.cleanup != nil {
		s.cleanup()
	}
	s.logger.Info("爬虫服务已关闭")
}

// newPage 创建一个注入了 stealth 脚本与统一 UA 的新标签页。
func (s *Service) newPage(ctx context.Context) (*rod.Page, error) {
	type pageResult struct {
		page *rod.Page
		err  error
	}
	ch := make(chan pageResult, 1)

	go func() {
		page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
		select {
		case ch <- pageResult{page: page, err: err}:
		default:
			// 主 goroutine 已超时退出, 清理掉迟到的页面
			if page != nil {
				_ = page.Close()
			}
		}
	}()

	createTimer := time.NewTimer(pageCreateTimeout)
	defer createTimer.Stop()

	var page *rod.Page
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("创建页面失败: %w", r.err)
		}
		page = r.page
	case <-createTimer.C:
		return nil, fmt.Errorf("创建页面超时 (%v)", pageCreateTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	stealthTimer := time.NewTimer(stealthScriptTimeout)
	defer stealthTimer.Stop()
	stealthDone := make(chan error, 1)
	go func() {
		_, evalErr := page.EvalOnNewDocument(stealth.JS)
		stealthDone <- evalErr
	}()

	select {
	case err := <-stealthDone:
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("注入 stealth 脚本失败: %w", err)
		}
	case <-stealthTimer.C:
		_ = page.Close()
		return nil, fmt.Errorf("注入 stealth 脚本超时 (%v)", stealthScriptTimeout)
	case <-ctx.Done():
		_ = page.Close()
		return nil, ctx.Err()
	}

	if err := applyUserAgent(page); err != nil {
		s.logger.Warn("覆盖页面 UA 失败", slog.String("error", err.Error()))
	}
	return page, nil
}

// startBrowser 启动浏览器进程并建立 CDP 连接。
func startBrowser(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*rod.Browser, func(), error) {
	bin := cfg.Browser.BinPath
	if bin == "" && cfg.Browser.UseEdge {
		bin = findEdgeBinary(logger)
	}
	if bin == "" {
		logger.Info("未指定浏览器路径, 使用默认浏览器")
		path, err := launcher.NewBrowser().Get()
		if err != nil {
			return nil, nil, fmt.Errorf("下载浏览器失败: %w", err)
		}
		bin = path
	}

	headless := cfg.Browser.Headless
	if cfg.Browser.InDocker {
		// 容器内没有显示服务, 强制无头
		headless = true
	}

	l := launcher.New().
		Headless(headless).
		Bin(bin).
		NoSandbox(true).
		// 禁用 /dev/shm, 防止容器内内存崩溃
		Set("disable-dev-shm-usage", "true").
		Set("disable-gpu", "true").
		Set("disable-software-rasterizer", "true").
		Set("remote-allow-origins", "*").
		Set("disable-blink-features", "AutomationControlled")

	var proxyUser, proxyPass string
	if cfg.Browser.ProxyURL != "" {
		parsed, err := url.Parse(cfg.Browser.ProxyURL)
		if err != nil {
			return nil, nil, fmt.Errorf("解析代理地址失败: %w", err)
		}
		if parsed.Scheme == "" || parsed.Host == "" {
			return nil, nil, fmt.Errorf("代理地址不完整: %s", cfg.Browser.ProxyURL)
		}
		proxyServer := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
		if parsed.User != nil {
			proxyUser = parsed.User.Username()
			if pass, ok := parsed.User.Password(); ok {
				proxyPass = pass
			}
		}
		l = l.Proxy(proxyServer)
		logger.Info("使用 HTTP 代理", slog.String("server", proxyServer))
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("连接浏览器失败: %w", err)
	}
	if proxyUser != "" {
		go browser.MustHandleAuth(proxyUser, proxyPass)()
	}

	logger.Info("浏览器已启动",
		slog.String("bin", bin), slog.Bool("headless", headless))
	return browser, l.Cleanup, nil
}

// findEdgeBinary 探测本机的 Edge 安装路径, 找不到时返回空串。
func findEdgeBinary(logger *slog.Logger) string {
	for _, p := range edgeBinPaths {
		if _, err := os.Stat(p); err == nil {
			logger.Info("找到 Edge 浏览器", slog.String("path", p))
			return p
		}
	}
	logger.Warn("未找到 Edge 浏览器, 回退到默认浏览器")
	return ""
}
