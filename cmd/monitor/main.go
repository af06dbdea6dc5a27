package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/crawler"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/logger"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
)

// main 是抓取进程的入口。
//
// 它负责：
// 1. 加载配置并校验登录态
// 2. 初始化日志与指标
// 3. 启动爬虫服务跑完所有启用的任务
// 4. 优雅关闭
func main() {
	configPath := flag.String("config", "", "配置文件路径（留空则走环境变量与默认值）")
	debugLimit := flag.Int("debug-limit", 0, "每个任务最多处理的新商品数, 0 表示不限制")
	flag.Parse()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *debugLimit > 0 {
		cfg.App.DebugLimit = *debugLimit
	}

	if _, err := os.Stat(cfg.Paths.StateFile); err != nil {
		fmt.Fprintf(os.Stderr, "未找到登录态文件 %s\n", cfg.Paths.StateFile)
		fmt.Fprintln(os.Stderr, "请先运行 login 命令扫码登录, 或通过 Web 界面更新登录状态。")
		os.Exit(1)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	metrics.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	service, err := crawler.NewService(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("初始化爬虫服务失败", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:    cfg.App.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		appLogger.Info("metrics server started", slog.String("addr", cfg.App.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	runErr := service.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}
	service.Shutdown()

	if runErr != nil && runErr != context.Canceled {
		appLogger.Error("monitor finished with error", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	appLogger.Info("monitor finished")
}
