package storage

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), nil)
}

func TestStore_FileFor(t *testing.T) {
	s := NewStore("jsonl", nil)
	got := s.FileFor("macbook pro m1")
	want := "jsonl/macbook_pro_m1_full_data.jsonl"
	if got != want {
		t.Fatalf("FileFor = %q, want %q", got, want)
	}
}

func TestStore_AppendAndQuery(t *testing.T) {
	s := newTestStore(t)

	records := []*model.Record{
		{
			CrawlTime:     "2026-08-01T10:00:00",
			SearchKeyword: "相机",
			TaskName:      "相机",
			ItemInfo:      &model.ItemInfo{ItemID: "1", CurrentPrice: "¥1,200", ItemLink: "https://www.goofish.com/item?id=1"},
			AIAnalysis:    model.AIAnalysis{"is_recommended": true, "reason": "成色好"},
		},
		{
			CrawlTime:     "2026-08-02T10:00:00",
			SearchKeyword: "相机",
			TaskName:      "相机",
			ItemInfo:      &model.ItemInfo{ItemID: "2", CurrentPrice: "¥800", ItemLink: "https://www.goofish.com/item?id=2"},
			AIAnalysis:    model.AIAnalysis{"is_recommended": false},
		},
		{
			CrawlTime:     "2026-08-03T10:00:00",
			SearchKeyword: "相机",
			TaskName:      "相机",
			ItemInfo:      &model.ItemInfo{ItemID: "3", CurrentPrice: "价格面议", ItemLink: "https://www.goofish.com/item?id=3"},
		},
	}
	for _, r := range records {
		if err := s.Append("相机", r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	res, err := s.Query("相机_full_data.jsonl", QueryOptions{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.TotalItems != 3 {
		t.Fatalf("TotalItems = %d, want 3", res.TotalItems)
	}
	// 默认按 crawl_time 倒序
	first := gjson.GetBytes(res.Items[0], "item_info.item_id").String()
	if first != "3" {
		t.Fatalf("expected newest record first, got item %s", first)
	}
}

func TestStore_Query_RecommendedOnly(t *testing.T) {
	s := newTestStore(t)
	if err := s.Append("k", &model.Record{
		CrawlTime:  "2026-08-01T10:00:00",
		ItemInfo:   &model.ItemInfo{ItemID: "1"},
		AIAnalysis: model.AIAnalysis{"is_recommended": true},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append("k", &model.Record{
		CrawlTime:  "2026-08-02T10:00:00",
		ItemInfo:   &model.ItemInfo{ItemID: "2"},
		AIAnalysis: model.AIAnalysis{"is_recommended": false},
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	res, err := s.Query("k_full_data.jsonl", QueryOptions{RecommendedOnly: true})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.TotalItems != 1 {
		t.Fatalf("TotalItems = %d, want 1", res.TotalItems)
	}
	if id := gjson.GetBytes(res.Items[0], "item_info.item_id").String(); id != "1" {
		t.Fatalf("expected recommended item 1, got %s", id)
	}
}

func TestStore_Query_PriceSort(t *testing.T) {
	s := newTestStore(t)
	prices := []string{"¥1,200", "¥99", "乱码", "¥800.5"}
	for i, p := range prices {
		if err := s.Append("k", &model.Record{
			ItemInfo: &model.ItemInfo{ItemID: string(rune('a' + i)), CurrentPrice: p},
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	res, err := s.Query("k_full_data.jsonl", QueryOptions{SortBy: "price", SortOrder: "desc"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	var got []float64
	for _, raw := range res.Items {
		got = append(got, parsePriceValue(gjson.GetBytes(raw, "item_info.current_price").String()))
	}
	for i := 1; i < len(got); i++ {
		if got[i] > got[i-1] {
			t.Fatalf("expected descending prices, got %v", got)
		}
	}
}

func TestStore_Query_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)
	bad := []string{"../etc/passwd.jsonl", "a/b.jsonl", "notjsonl.txt", "..jsonl"}
	for _, name := range bad {
		if _, err := s.Query(name, QueryOptions{}); err == nil {
			t.Fatalf("expected rejection for %q", name)
		}
	}
}

func TestParsePriceValue(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"¥1,234.5", 1234.5},
		{"800", 800},
		{" ¥99 ", 99},
		{"价格面议", 0},
		{"", 0},
	}
	for _, tt := range tests {
		if got := parsePriceValue(tt.in); got != tt.want {
			t.Errorf("parsePriceValue(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
