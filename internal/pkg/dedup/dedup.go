// Package dedup 基于历史记录文件维护已处理商品集合。
//
// 集合不单独落盘, 每次任务启动时从 JSONL 记录文件重建,
// 记录文件因此是唯一的持久化事实来源。
package dedup

import (
	"bufio"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// UniqueKey 把商品链接规整为去重键: 去掉第一个 '&' 之后的追踪参数。
func UniqueKey(link string) string {
	if i := strings.IndexByte(link, '&'); i >= 0 {
		return link[:i]
	}
	return link
}

// Deduplicator 是进程内的已见商品集合, 并发安全。
type Deduplicator struct {
	mu     sync.RWMutex
	seen   map[string]struct{}
	logger *slog.Logger
}

func NewDeduplicator(logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		seen:   make(map[string]struct{}),
		logger: logger,
	}
}

// LoadFromFile 从记录文件重建集合。文件不存在视为空历史, 不报错。
// 无法解析的行跳过并告警, 不中断重建。
//
// 返回值:
//   - int: 成功载入的链接数
//   - error: 打开或读取文件失败
func (d *Deduplicator) LoadFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	loaded := 0
	lineNo := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		link := gjson.Get(line, "item_info.item_link")
		if !link.Exists() || link.String() == "" {
			d.logger.Warn("历史记录行无法解析, 已跳过",
				slog.String("file", path),
				slog.Int("line", lineNo))
			continue
		}
		d.Add(link.String())
		loaded++
	}
	if err := sc.Err(); err != nil {
		return loaded, err
	}
	return loaded, nil
}

// IsDuplicate 判断链接对应的商品是否已处理过。
func (d *Deduplicator) IsDuplicate(link string) bool {
	key := UniqueKey(link)
	d.mu.RLock()
	_, ok := d.seen[key]
	d.mu.RUnlock()
	return ok
}

// Add 将链接标记为已处理。
func (d *Deduplicator) Add(link string) {
	key := UniqueKey(link)
	d.mu.Lock()
	d.seen[key] = struct{}{}
	d.mu.Unlock()
}

// Len 返回集合大小。
func (d *Deduplicator) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}
