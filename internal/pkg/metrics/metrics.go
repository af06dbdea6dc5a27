package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 监控指标集合, 由 InitMetrics 完成一次性注册。
var (
	// TasksActive 当前并发执行中的监控任务数。
	TasksActive prometheus.Gauge

	// PagesCrawledTotal 按任务统计的搜索结果页抓取总数。
	PagesCrawledTotal *prometheus.CounterVec

	// ItemsSeenTotal 搜索结果中出现过的商品总数(含重复)。
	ItemsSeenTotal *prometheus.CounterVec

	// ItemsProcessedTotal 完整处理(详情+卖家+AI)的新商品总数。
	ItemsProcessedTotal *prometheus.CounterVec

	// CrawlErrorsTotal 按错误类型统计的抓取错误。
	CrawlErrorsTotal *prometheus.CounterVec

	// BlockEventsTotal 反爬拦截事件计数(overlay/validate)。
	BlockEventsTotal *prometheus.CounterVec

	// AIRequestsTotal AI 分析请求计数, 按结果(ok/error)区分。
	AIRequestsTotal *prometheus.CounterVec

	// AIRequestDuration AI 分析耗时分布。
	AIRequestDuration prometheus.Histogram

	// NotifySentTotal 通知发送计数, 按渠道与结果区分。
	NotifySentTotal *prometheus.CounterVec

	// ImageDownloadsTotal 商品图片下载计数, 按结果区分。
	ImageDownloadsTotal *prometheus.CounterVec

	// BrowserActive 当前存活的浏览器实例数。
	BrowserActive prometheus.Gauge
)

var initOnce sync.Once

// InitMetrics 注册所有指标。重复调用是安全的, 只有第一次生效。
func InitMetrics() {
	initOnce.Do(func() {
		TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "goofish_monitor_tasks_active",
			Help: "Number of monitor tasks currently running.",
		})
		PagesCrawledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_pages_crawled_total",
			Help: "Search result pages fetched, by task.",
		}, []string{"task"})
		ItemsSeenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_items_seen_total",
			Help: "Items observed in search results, by task.",
		}, []string{"task"})
		ItemsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_items_processed_total",
			Help: "New items fully processed, by task.",
		}, []string{"task"})
		CrawlErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_crawl_errors_total",
			Help: "Crawl errors by classified type.",
		}, []string{"type"})
		BlockEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_block_events_total",
			Help: "Anti-bot block events, by kind.",
		}, []string{"kind"})
		AIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_ai_requests_total",
			Help: "AI analysis requests, by result.",
		}, []string{"result"})
		AIRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "goofish_monitor_ai_request_duration_seconds",
			Help:    "AI analysis request latency.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		})
		NotifySentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_notify_sent_total",
			Help: "Notifications sent, by channel and result.",
		}, []string{"channel", "result"})
		ImageDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "goofish_monitor_image_downloads_total",
			Help: "Item image downloads, by result.",
		}, []string{"result"})
		BrowserActive = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "goofish_monitor_browser_active",
			Help: "Live browser instances.",
		})
	})
}
