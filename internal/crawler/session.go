package crawler

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// 登录态页面统一使用的桌面 UA。
const chromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"

// storageState 登录态文件的结构, 与浏览器导出的 storage state 格式兼容。
type storageState struct {
	Cookies []storedCookie `json:"cookies"`
}

type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// LoadStorageState 读取登录态文件。
func LoadStorageState(path string) (*storageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取登录态文件失败: %w", err)
	}
	var st storageState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("解析登录态文件失败: %w", err)
	}
	if len(st.Cookies) == 0 {
		return nil, fmt.Errorf("登录态文件 %s 中没有 cookie, 请重新登录", path)
	}
	return &st, nil
}

// cookieParams 转成 CDP 注入格式。
func (st *storageState) cookieParams() []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		switch c.SameSite {
		case "Lax":
			p.SameSite = proto.NetworkCookieSameSiteLax
		case "Strict":
			p.SameSite = proto.NetworkCookieSameSiteStrict
		case "None":
			p.SameSite = proto.NetworkCookieSameSiteNone
		}
		params = append(params, p)
	}
	return params
}

// ApplyLoginState 把保存的登录 cookie 注入浏览器。
func ApplyLoginState(browser *rod.Browser, path string) error {
	st, err := LoadStorageState(path)
	if err != nil {
		return err
	}
	if err := browser.SetCookies(st.cookieParams()); err != nil {
		return fmt.Errorf("注入登录 cookie 失败: %w", err)
	}
	return nil
}

// SaveStorageState 从浏览器导出当前 cookie 并写入登录态文件。
// 手动登录完成后调用, 供后续的无头抓取复用会话。
func SaveStorageState(browser *rod.Browser, path string) error {
	cookies, err := browser.GetCookies()
	if err != nil {
		return fmt.Errorf("导出浏览器 cookie 失败: %w", err)
	}

	st := storageState{Cookies: make([]storedCookie, 0, len(cookies))}
	for _, c := range cookies {
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		switch c.SameSite {
		case proto.NetworkCookieSameSiteLax:
			sc.SameSite = "Lax"
		case proto.NetworkCookieSameSiteStrict:
			sc.SameSite = "Strict"
		case proto.NetworkCookieSameSiteNone:
			sc.SameSite = "None"
		}
		st.Cookies = append(st.Cookies, sc)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("写入登录态文件失败: %w", err)
	}
	return nil
}

// applyUserAgent 覆盖页面 UA, 避免无头模式默认 UA 暴露。
func applyUserAgent(page *rod.Page) error {
	return page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: chromeUserAgent,
	})
}
