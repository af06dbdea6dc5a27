package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/crawler"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/logger"
)

// main 打开有头浏览器完成扫码登录并保存登录态文件。
func main() {
	configPath := flag.String("config", "", "配置文件路径（留空则走环境变量与默认值）")
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
	if err := crawler.InteractiveLogin(context.Background(), cfg, appLogger); err != nil {
		appLogger.Error("登录失败", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
