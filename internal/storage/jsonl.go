// Package storage 负责抓取结果与商品图片的落盘。
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
)

// Store 以 JSONL 文件保存抓取记录, 每个关键词一个文件, 每条记录一行。
type Store struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// FileFor 返回关键词对应的记录文件路径, 关键词中的空格替换为下划线。
func (s *Store) FileFor(keyword string) string {
	name := strings.ReplaceAll(keyword, " ", "_") + "_full_data.jsonl"
	return filepath.Join(s.dir, name)
}

// Append 将一条记录追加到对应文件末尾。目录不存在时自动创建。
func (s *Store) Append(keyword string, rec *model.Record) error {
	line, err := rec.MarshalLine()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	path := s.FileFor(keyword)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open record file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// ListFiles 列出目录下所有 JSONL 记录文件名（不含路径）。
func (s *Store) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// QueryOptions 结果查询参数。
type QueryOptions struct {
	Page            int    // 从 1 开始
	Limit           int    // 每页条数
	RecommendedOnly bool   // 只看 AI 推荐
	SortBy          string // crawl_time / publish_time / price
	SortOrder       string // asc / desc
}

// QueryResult 一页查询结果。Items 为原始 JSON 行, 原样返回给前端。
type QueryResult struct {
	TotalItems int               `json:"total_items"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	Items      []json.RawMessage `json:"items"`
}

// Query 读取一个记录文件并按条件分页返回。
// 文件名只允许裸文件名, 拒绝路径穿越。
func (s *Store) Query(filename string, opts QueryOptions) (*QueryResult, error) {
	if !strings.HasSuffix(filename, ".jsonl") ||
		strings.Contains(filename, "/") || strings.Contains(filename, "..") {
		return nil, fmt.Errorf("invalid result filename: %q", filename)
	}
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	}

	f, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		if opts.RecommendedOnly && !gjson.Get(line, "ai_analysis.is_recommended").Bool() {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sortLines(lines, opts.SortBy, opts.SortOrder)

	total := len(lines)
	start := (opts.Page - 1) * opts.Limit
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	items := make([]json.RawMessage, 0, end-start)
	for _, line := range lines[start:end] {
		items = append(items, json.RawMessage(line))
	}
	return &QueryResult{
		TotalItems: total,
		Page:       opts.Page,
		Limit:      opts.Limit,
		Items:      items,
	}, nil
}

func sortLines(lines []string, sortBy, sortOrder string) {
	desc := sortOrder != "asc"

	switch sortBy {
	case "price":
		sort.SliceStable(lines, func(i, j int) bool {
			a := parsePriceValue(gjson.Get(lines[i], "item_info.current_price").String())
			b := parsePriceValue(gjson.Get(lines[j], "item_info.current_price").String())
			if desc {
				return a > b
			}
			return a < b
		})
	case "publish_time":
		sort.SliceStable(lines, func(i, j int) bool {
			a := gjson.Get(lines[i], "item_info.publish_time").String()
			b := gjson.Get(lines[j], "item_info.publish_time").String()
			if desc {
				return a > b
			}
			return a < b
		})
	default: // crawl_time
		sort.SliceStable(lines, func(i, j int) bool {
			a := gjson.Get(lines[i], "crawl_time").String()
			b := gjson.Get(lines[j], "crawl_time").String()
			if desc {
				return a > b
			}
			return a < b
		})
	}
}

// parsePriceValue 把 "¥1,234.5" 之类的价格串转成数值, 无法解析时按 0 处理。
func parsePriceValue(price string) float64 {
	cleaned := strings.TrimSpace(price)
	cleaned = strings.ReplaceAll(cleaned, "¥", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0.0
	}
	return v
}
