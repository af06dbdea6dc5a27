package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	searchBaseURL  = "https://www.goofish.com/search?q="
	profileBaseURL = "https://www.goofish.com/personal?userId="

	// 接口返回的商品跳转链接带的是客户端协议头
	appSchemePrefix = "fleamarket://"
	webSchemePrefix = "https://www.goofish.com/"
)

var itemIDPattern = regexp.MustCompile(`item\?id=(\d+)`)

// SearchURL 构造关键词搜索页地址。
func SearchURL(keyword string) string {
	return searchBaseURL + url.QueryEscape(keyword)
}

// ProfileURL 构造卖家主页地址。
func ProfileURL(userID string) string {
	return profileBaseURL + userID
}

// NormalizeItemLink 把接口返回的 fleamarket:// 链接转成网页端链接。
func NormalizeItemLink(raw string) string {
	return strings.Replace(raw, appSchemePrefix, webSchemePrefix, 1)
}

// MobileLink 把网页端商品链接转成手机端可直接打开的分享链接。
// 链接中解析不出商品 ID 时原样返回。
func MobileLink(link string) string {
	m := itemIDPattern.FindStringSubmatch(link)
	if m == nil {
		return link
	}
	bfp := fmt.Sprintf(`{"id":%s}`, m[1])
	return "https://pages.goofish.com/sharexy?loadingVisible=false&bft=item&bfs=idlepc.item&spm=a21ybx.item.0.0&bfp=" + url.QueryEscape(bfp)
}
