package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dingyufei615/ai-goofish-monitor/internal/api"
	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/logger"
)

// main 是 Web 管理服务的入口。
//
// 它负责：
// 1. 加载配置
// 2. 初始化日志
// 3. 启动 API 服务器, 并托管抓取进程的启停
func main() {
	configPath := flag.String("config", "", "配置文件路径（留空则走环境变量与默认值）")
	monitorBin := flag.String("monitor-bin", "./monitor", "抓取进程可执行文件路径")
	flag.Parse()

	var paths []string
	if *configPath != "" {
		paths = append(paths, *configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLogger := logger.NewDefault(cfg.App.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	proc := api.NewProcessManager(*monitorBin, cfg.Paths.LogFile, appLogger)
	srv, err := api.NewServer(cfg, appLogger, proc)
	if err != nil {
		appLogger.Error("init server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.App.ServerPort),
		Handler: srv.Router(),
	}

	go func() {
		appLogger.Info("api server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("server run failed", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	appLogger.Info("shutting down api server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("http shutdown failed", slog.String("error", err.Error()))
	}
	if err := proc.Stop(); err != nil {
		appLogger.Error("stop monitor process failed", slog.String("error", err.Error()))
	}
}
