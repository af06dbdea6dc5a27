package crawler

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// 闲鱼页面背后的 mtop 接口, 商品与卖家数据都从这些响应里拿。
const (
	apiSearch      = "mtop.taobao.idlemtopsearch.pc.search"
	apiDetail      = "mtop.taobao.idle.pc.detail"
	apiUserHead    = "mtop.idle.web.user.page.head"
	apiUserItems   = "mtop.idle.web.xyh.item.list"
	apiUserRatings = "mtop.idle.web.trade.rate.list"
)

type responseResult struct {
	body []byte
	err  error
}

// ResponseFuture 一次性的接口响应等待句柄。
// 必须在触发页面动作之前通过 Expect 注册, 否则响应可能已经错过。
type ResponseFuture struct {
	urlPart string
	ch      chan responseResult
}

// WaitResult 阻塞等待, 把三种结局显式分开:
// 拿到响应 (body, true, nil)、等待超时 (nil, false, nil)、
// context 取消或响应体读取失败时 err 非空。
// 滚动加载这类 "超时即加载完毕" 的调用方用它按结局分支, 不把超时当错误。
func (f *ResponseFuture) WaitResult(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-f.ch:
		if r.err != nil {
			return nil, true, r.err
		}
		return r.body, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Wait 阻塞等待匹配的响应体, 超时视为失败。
// 只适合响应必须到达的场景, 比如导航或点击后的首个搜索请求。
//
// 参数:
//   - ctx: 任务 context
//   - timeout: 最长等待时间
//
// 返回值:
//   - []byte: 响应体原文
//   - error: 超时或 context 取消时返回错误
func (f *ResponseFuture) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	body, found, err := f.WaitResult(ctx, timeout)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("等待接口响应超时: %s", f.urlPart)
	}
	return body, nil
}

// responseCorrelator 监听页面的网络事件, 把响应体关联到等待它的调用方。
// ResponseReceived 只带 URL, 响应体要等 LoadingFinished 之后才能取,
// 所以先按 RequestID 记 URL, 完成时再回查。
type responseCorrelator struct {
	page   *rod.Page
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.Mutex
	urls    map[proto.NetworkRequestID]string
	waiters []*ResponseFuture
}

func newResponseCorrelator(page *rod.Page, logger *slog.Logger) *responseCorrelator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &responseCorrelator{
		page:   page,
		cancel: cancel,
		logger: logger,
		urls:   make(map[proto.NetworkRequestID]string),
	}

	eventPage := page.Context(ctx)
	go eventPage.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			c.mu.Lock()
			c.urls[e.RequestID] = e.Response.URL
			c.mu.Unlock()
		},
		func(e *proto.NetworkLoadingFinished) {
			c.onLoadingFinished(e.RequestID)
		},
	)()

	return c
}

// Expect 注册一个 URL 片段匹配的响应等待。
// 同一片段可以重复注册, 响应按注册顺序分发, 每个 future 只收一次。
func (c *responseCorrelator) Expect(urlPart string) *ResponseFuture {
	f := &ResponseFuture{
		urlPart: urlPart,
		ch:      make(chan responseResult, 1),
	}
	c.mu.Lock()
	c.waiters = append(c.waiters, f)
	c.mu.Unlock()
	return f
}

// Close 停止网络事件监听。
func (c *responseCorrelator) Close() {
	c.cancel()
}

func (c *responseCorrelator) onLoadingFinished(id proto.NetworkRequestID) {
	c.mu.Lock()
	url, ok := c.urls[id]
	if ok {
		delete(c.urls, id)
	}
	var waiter *ResponseFuture
	if ok {
		for i, w := range c.waiters {
			if strings.Contains(url, w.urlPart) {
				waiter = w
				c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
				break
			}
		}
	}
	c.mu.Unlock()

	if waiter == nil {
		return
	}

	// 取响应体是一次 CDP 往返, 放到单独的 goroutine 里, 避免阻塞事件循环。
	go func() {
		body, err := c.fetchBody(id)
		if err != nil {
			c.logger.Warn("读取接口响应体失败",
				slog.String("url", url),
				slog.String("error", err.Error()))
			waiter.ch <- responseResult{err: fmt.Errorf("读取响应体失败 %s: %w", waiter.urlPart, err)}
			return
		}
		waiter.ch <- responseResult{body: body}
	}()
}

func (c *responseCorrelator) fetchBody(id proto.NetworkRequestID) ([]byte, error) {
	m, err := proto.NetworkGetResponseBody{RequestID: id}.Call(c.page)
	if err != nil {
		return nil, err
	}
	if m.Base64Encoded {
		return base64.StdEncoding.DecodeString(m.Body)
	}
	return []byte(m.Body), nil
}
