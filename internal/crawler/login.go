package crawler

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-rod/rod/lib/proto"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
)

const loginEntryURL = "https://www.goofish.com/"

// InteractiveLogin 打开有头浏览器供用户手动扫码登录,
// 用户确认完成后把 Cookie 写入登录态文件。
//
// 容器内（没有显示服务）无法使用, 请在宿主机上运行后把
// 登录态文件挂载进容器。
func InteractiveLogin(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Browser.InDocker {
		return fmt.Errorf("容器内无法交互登录, 请在宿主机上生成登录态文件")
	}

	headedCfg := *cfg
	headedCfg.Browser.Headless = false
	browser, cleanup, err := startBrowser(ctx, &headedCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		browser.Close()
		cleanup()
	}()

	page, err := browser.Page(proto.TargetCreateTarget{URL: loginEntryURL})
	if err != nil {
		return fmt.Errorf("打开登录页失败: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		logger.Warn("登录页加载未完成", slog.String("error", err.Error()))
	}

	fmt.Println("请在弹出的浏览器窗口中完成登录（推荐使用手机闲鱼 App 扫码）。")
	fmt.Println("登录成功后回到本终端, 按回车键保存登录状态...")
	if _, err := bufio.NewReader(os.Stdin).ReadString('\n'); err != nil {
		return fmt.Errorf("等待输入失败: %w", err)
	}

	if err := SaveStorageState(browser, cfg.Paths.StateFile); err != nil {
		return fmt.Errorf("保存登录态失败: %w", err)
	}
	logger.Info("登录态已保存", slog.String("file", cfg.Paths.StateFile))
	return nil
}
