package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/queue"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/retry"
)

const (
	downloadTimeout  = 20 * time.Second
	downloadRetries  = 2
	downloadInterval = 3 * time.Second
)

// 图床对爬虫 UA 有限制, 这里固定用一个常见的浏览器指纹。
var imageRequestHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:139.0) Gecko/20100101 Firefox/139.0",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// ImageDownloader 下载商品图片到本地目录, 下载任务投递到共享 worker 池并发执行。
type ImageDownloader struct {
	dir    string
	client *http.Client
	pool   *queue.Queue
	logger *slog.Logger
}

// NewImageDownloader 创建图片下载器。pool 为 nil 时退化为同步下载,
// proxyURL 非空时图片请求走该代理, 与浏览器保持同一出口。
func NewImageDownloader(dir, proxyURL string, pool *queue.Queue, logger *slog.Logger) *ImageDownloader {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: downloadTimeout}
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			client.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
		} else {
			logger.Warn("代理地址无效, 图片下载直连", slog.String("proxy", proxyURL))
		}
	}
	return &ImageDownloader{
		dir:    dir,
		client: client,
		pool:   pool,
		logger: logger,
	}
}

// DownloadAll 下载一个商品的全部图片, 返回成功保存的本地路径。
// 单张失败只记录告警, 不影响其余图片。
func (d *ImageDownloader) DownloadAll(ctx context.Context, itemID string, urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		d.logger.Warn("图片目录创建失败", slog.String("error", err.Error()))
		return nil
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	paths := make([]string, 0, len(urls))

	for i, rawURL := range urls {
		idx, u := i, rawURL
		job := func(jobCtx context.Context) error {
			path, err := d.downloadOne(jobCtx, itemID, idx, u)
			if err != nil {
				metrics.ImageDownloadsTotal.WithLabelValues("error").Inc()
				d.logger.Warn("图片下载失败, 已跳过",
					slog.String("item_id", itemID),
					slog.String("url", u),
					slog.String("error", err.Error()))
				return err
			}
			metrics.ImageDownloadsTotal.WithLabelValues("ok").Inc()
			mu.Lock()
			paths = append(paths, path)
			mu.Unlock()
			return nil
		}

		if d.pool == nil {
			_ = job(ctx)
			continue
		}
		wg.Add(1)
		wrapped := func(jobCtx context.Context) error {
			defer wg.Done()
			return job(jobCtx)
		}
		if err := d.pool.EnqueueBlocking(ctx, wrapped); err != nil {
			wg.Done()
			d.logger.Warn("图片下载任务入队失败", slog.String("error", err.Error()))
		}
	}
	wg.Wait()
	return paths
}

// downloadOne 下载单张图片, 带重试。已存在的文件直接复用。
func (d *ImageDownloader) downloadOne(ctx context.Context, itemID string, index int, rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "http") {
		return "", fmt.Errorf("unsupported image url: %q", rawURL)
	}

	// CDN 会在 .heic 后追加转换参数, 截断后得到可直接下载的地址
	cleanURL := rawURL
	if i := strings.Index(rawURL, ".heic"); i >= 0 {
		cleanURL = rawURL[:i]
	}

	path := filepath.Join(d.dir, imageFileName(itemID, index, cleanURL))
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	err := retry.Do(ctx, downloadRetries, downloadInterval, func() error {
		return d.fetchToFile(ctx, cleanURL, path)
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (d *ImageDownloader) fetchToFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range imageRequestHeaders {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write image file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// imageFileName 生成本地文件名: product_{商品ID}_{序号}_{URL 基础名}。
// 去掉查询串与 Windows 不允许的字符, 无扩展名时补 .jpg。
func imageFileName(itemID string, index int, url string) string {
	base := url
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	base = filepath.Base(base)
	base = strings.Map(func(r rune) rune {
		switch r {
		case '\\', '/', '*', '?', ':', '"', '<', '>', '|':
			return -1
		}
		return r
	}, base)

	name := fmt.Sprintf("product_%s_%d_%s", itemID, index+1, base)
	if filepath.Ext(name) == "" {
		name += ".jpg"
	}
	return name
}
