package crawler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/dedup"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/delay"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/notify"
)

func TestMain(m *testing.M) {
	metrics.InitMetrics()
	os.Exit(m.Run())
}

const detailBodyFixture = `{
  "data": {
    "itemDO": {
      "wantCnt": 8,
      "browseCnt": 300,
      "imageInfos": [{"url": "https://cdn.example.com/a.jpg"}]
    },
    "sellerDO": {
      "sellerId": 777,
      "userRegDay": 500,
      "zhimaLevelInfo": {"levelName": "芝麻信用优秀"}
    }
  }
}`

const validateBlockedBody = `{"ret":["FAIL_SYS_USER_VALIDATE::哎哟喂"]}`

type fakeStore struct {
	mu       sync.Mutex
	appended []*model.Record
}

func (f *fakeStore) Append(keyword string, rec *model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended = append(f.appended, rec)
	return nil
}

func (f *fakeStore) FileFor(keyword string) string {
	return strings.ReplaceAll(keyword, " ", "_") + "_full_data.jsonl"
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*notify.Recommendation
}

func (f *fakeNotifier) Send(ctx context.Context, rec *notify.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, rec)
	return nil
}

type fakeAnalyzer struct {
	result model.AIAnalysis
	err    error
	calls  int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, promptText string, rec *model.Record, imagePaths []string) (model.AIAnalysis, error) {
	f.calls++
	return f.result, f.err
}

type fakeFilter struct{ pass bool }

func (f *fakeFilter) Passes(ctx context.Context, title string, cfg *model.EmbeddingFilter) bool {
	return f.pass
}

type fakeImages struct{ calls int }

func (f *fakeImages) DownloadAll(ctx context.Context, itemID string, urls []string) []string {
	f.calls++
	return nil
}

func testItem(id, link string) *model.ItemInfo {
	return &model.ItemInfo{
		ItemID:         id,
		ItemTitle:      "95新 iPhone 15 Pro",
		CurrentPrice:   "¥4500",
		ItemLink:       link,
		SellerNickname: "数码小王",
	}
}

func newTestService(detailBody []byte) (*Service, *fakeStore, *fakeNotifier) {
	st := &fakeStore{}
	nt := &fakeNotifier{}
	s := &Service{
		cfg:      &config.Config{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		store:    st,
		images:   &fakeImages{},
		notifier: nt,
		fetchDetail: func(ctx context.Context, link string) ([]byte, error) {
			return detailBody, nil
		},
		scrapeProfile: func(ctx context.Context, userID string) (*model.SellerInfo, error) {
			return &model.SellerInfo{SellerNickname: "数码小王"}, nil
		},
		pause: func(ctx context.Context, r delay.Range) error { return nil },
	}
	return s, st, nt
}

func TestHandleItem_DuplicateSkipped(t *testing.T) {
	s, st, nt := newTestService([]byte(detailBodyFixture))
	task := &model.Task{TaskName: "iphone", Keyword: "iphone"}
	seen := dedup.NewDeduplicator(nil)

	first := testItem("1", "https://www.goofish.com/item?id=1&spm=a")
	handled, err := s.handleItem(context.Background(), task, "", first, seen)
	if err != nil || !handled {
		t.Fatalf("first item: handled=%v err=%v", handled, err)
	}

	// 同一商品带不同跟踪参数, 应命中去重
	dup := testItem("1", "https://www.goofish.com/item?id=1&spm=b")
	handled, err = s.handleItem(context.Background(), task, "", dup, seen)
	if err != nil {
		t.Fatalf("duplicate item: %v", err)
	}
	if handled {
		t.Errorf("duplicate item should not be handled")
	}
	if len(st.appended) != 1 {
		t.Errorf("appended = %d, want 1", len(st.appended))
	}
	if len(nt.sent) != 0 {
		t.Errorf("no notification expected without AI analysis, got %d", len(nt.sent))
	}
}

func TestHandleItem_RecordContents(t *testing.T) {
	s, st, _ := newTestService([]byte(detailBodyFixture))
	task := &model.Task{TaskName: "iphone", Keyword: "iphone 15"}

	info := testItem("2", "https://www.goofish.com/item?id=2")
	if _, err := s.handleItem(context.Background(), task, "", info, dedup.NewDeduplicator(nil)); err != nil {
		t.Fatalf("handleItem: %v", err)
	}
	if len(st.appended) != 1 {
		t.Fatalf("appended = %d", len(st.appended))
	}

	rec := st.appended[0]
	if rec.SearchKeyword != "iphone 15" || rec.TaskName != "iphone" {
		t.Errorf("record task fields = %q / %q", rec.SearchKeyword, rec.TaskName)
	}
	if rec.ItemInfo.WantsCount != "8" || rec.ItemInfo.ViewsCount != "300" {
		t.Errorf("detail not merged: wants=%q views=%q", rec.ItemInfo.WantsCount, rec.ItemInfo.ViewsCount)
	}
	if rec.ItemInfo.ItemMainImageLink != "https://cdn.example.com/a.jpg" {
		t.Errorf("main image = %q", rec.ItemInfo.ItemMainImageLink)
	}
	if rec.SellerInfo == nil || rec.SellerInfo.SellerZhimaCredit != "芝麻信用优秀" {
		t.Errorf("seller info = %+v", rec.SellerInfo)
	}
	if rec.SellerInfo.SellerRegistrationDuration != "On Xianyu for 1 years and 4 months" {
		t.Errorf("registration duration = %q", rec.SellerInfo.SellerRegistrationDuration)
	}
}

func TestHandleItem_ValidateBlocked(t *testing.T) {
	s, st, _ := newTestService([]byte(validateBlockedBody))
	task := &model.Task{TaskName: "iphone", Keyword: "iphone"}

	handled, err := s.handleItem(context.Background(), task, "", testItem("3", "https://www.goofish.com/item?id=3"), dedup.NewDeduplicator(nil))
	if !errors.Is(err, errBlocked) {
		t.Fatalf("expected errBlocked, got %v", err)
	}
	if handled {
		t.Errorf("blocked item should not be handled")
	}
	if len(st.appended) != 0 {
		t.Errorf("nothing should be persisted when blocked, got %d", len(st.appended))
	}
}

func TestHandleItem_EmbeddingFilterSkips(t *testing.T) {
	s, st, _ := newTestService([]byte(detailBodyFixture))
	s.filter = &fakeFilter{pass: false}
	detailCalled := false
	s.fetchDetail = func(ctx context.Context, link string) ([]byte, error) {
		detailCalled = true
		return []byte(detailBodyFixture), nil
	}
	task := &model.Task{
		TaskName:        "iphone",
		Keyword:         "iphone",
		EmbeddingFilter: &model.EmbeddingFilter{ReferenceTexts: []string{"苹果手机"}},
	}

	link := "https://www.goofish.com/item?id=4"
	seen := dedup.NewDeduplicator(nil)
	handled, err := s.handleItem(context.Background(), task, "", testItem("4", link), seen)
	if err != nil || handled {
		t.Fatalf("filtered item: handled=%v err=%v", handled, err)
	}
	if detailCalled {
		t.Errorf("detail should not be fetched for filtered items")
	}
	if len(st.appended) != 0 {
		t.Errorf("filtered item should not be persisted")
	}
	if !seen.IsDuplicate(link) {
		t.Errorf("filtered item should still be marked as seen")
	}
}

func TestHandleItem_AIErrorRecorded(t *testing.T) {
	s, st, nt := newTestService([]byte(detailBodyFixture))
	s.analyzer = &fakeAnalyzer{err: errors.New("model unavailable")}
	task := &model.Task{TaskName: "iphone", Keyword: "iphone"}

	handled, err := s.handleItem(context.Background(), task, "prompt", testItem("5", "https://www.goofish.com/item?id=5"), dedup.NewDeduplicator(nil))
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if len(st.appended) != 1 {
		t.Fatalf("record should still be persisted on AI failure")
	}
	if msg, ok := st.appended[0].AIAnalysis["error"].(string); !ok || msg != "model unavailable" {
		t.Errorf("ai_analysis = %v", st.appended[0].AIAnalysis)
	}
	if len(nt.sent) != 0 {
		t.Errorf("failed analysis must not trigger notification")
	}
}

func TestHandleItem_RecommendedNotifies(t *testing.T) {
	s, st, nt := newTestService([]byte(detailBodyFixture))
	s.analyzer = &fakeAnalyzer{result: model.AIAnalysis{
		"is_recommended": true,
		"reason":         "价格低于市场价且卖家信用好",
	}}
	s.cfg.Notify.PCURLToMobile = true
	task := &model.Task{TaskName: "iphone", Keyword: "iphone"}

	handled, err := s.handleItem(context.Background(), task, "prompt", testItem("6", "https://www.goofish.com/item?id=6"), dedup.NewDeduplicator(nil))
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if len(st.appended) != 1 || len(nt.sent) != 1 {
		t.Fatalf("appended=%d sent=%d", len(st.appended), len(nt.sent))
	}

	sent := nt.sent[0]
	if sent.Reason != "价格低于市场价且卖家信用好" {
		t.Errorf("reason = %q", sent.Reason)
	}
	if sent.MobileLink == "" {
		t.Errorf("mobile link should be set when pcurl_to_mobile is enabled")
	}
	if sent.PCLink != "https://www.goofish.com/item?id=6" {
		t.Errorf("pc link = %q", sent.PCLink)
	}
}

func TestHandleItem_NotRecommendedNoNotification(t *testing.T) {
	s, _, nt := newTestService([]byte(detailBodyFixture))
	s.analyzer = &fakeAnalyzer{result: model.AIAnalysis{
		"is_recommended": false,
		"reason":         "疑似商家批量出货",
	}}
	task := &model.Task{TaskName: "iphone", Keyword: "iphone"}

	if _, err := s.handleItem(context.Background(), task, "prompt", testItem("7", "https://www.goofish.com/item?id=7"), dedup.NewDeduplicator(nil)); err != nil {
		t.Fatalf("handleItem: %v", err)
	}
	if len(nt.sent) != 0 {
		t.Errorf("rejected item must not notify, got %d", len(nt.sent))
	}
}

func TestHandleItem_ProfileFailureFallsBack(t *testing.T) {
	s, st, _ := newTestService([]byte(detailBodyFixture))
	s.scrapeProfile = func(ctx context.Context, userID string) (*model.SellerInfo, error) {
		return nil, errors.New("profile timeout")
	}
	task := &model.Task{TaskName: "iphone", Keyword: "iphone"}

	handled, err := s.handleItem(context.Background(), task, "", testItem("8", "https://www.goofish.com/item?id=8"), dedup.NewDeduplicator(nil))
	if err != nil || !handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	seller := st.appended[0].SellerInfo
	if seller == nil || seller.SellerNickname != "数码小王" {
		t.Fatalf("fallback seller = %+v", seller)
	}
	if seller.SellerZhimaCredit != "芝麻信用优秀" {
		t.Errorf("zhima credit should come from detail, got %q", seller.SellerZhimaCredit)
	}
}

func TestHandleItem_DedupScopedPerTask(t *testing.T) {
	s, st, _ := newTestService([]byte(detailBodyFixture))
	taskA := &model.Task{TaskName: "apple", Keyword: "iphone"}
	taskB := &model.Task{TaskName: "apple phone", Keyword: "apple phone"}
	link := "https://www.goofish.com/item?id=9&spm=a"

	// 同一个商品被两个任务的关键词命中, 各自的历史文件都要收到记录
	handled, err := s.handleItem(context.Background(), taskA, "", testItem("9", link), dedup.NewDeduplicator(nil))
	if err != nil || !handled {
		t.Fatalf("task A: handled=%v err=%v", handled, err)
	}
	handled, err = s.handleItem(context.Background(), taskB, "", testItem("9", link), dedup.NewDeduplicator(nil))
	if err != nil || !handled {
		t.Fatalf("task B: handled=%v err=%v", handled, err)
	}

	if len(st.appended) != 2 {
		t.Fatalf("appended = %d, want one record per task", len(st.appended))
	}
	keywords := map[string]bool{}
	for _, rec := range st.appended {
		keywords[rec.SearchKeyword] = true
	}
	if !keywords["iphone"] || !keywords["apple phone"] {
		t.Errorf("records should cover both keywords, got %v", keywords)
	}
}

func TestHandleItem_DetailNotOKSkipped(t *testing.T) {
	s, st, _ := newTestService([]byte(`{"ret":["FAIL_SYS_SESSION_EXPIRED::令牌过期"],"data":{}}`))
	task := &model.Task{TaskName: "iphone", Keyword: "iphone"}
	seen := dedup.NewDeduplicator(nil)

	link := "https://www.goofish.com/item?id=10"
	handled, err := s.handleItem(context.Background(), task, "", testItem("10", link), seen)
	if err != nil || handled {
		t.Fatalf("handled=%v err=%v", handled, err)
	}
	if len(st.appended) != 0 {
		t.Errorf("failed detail fetch must not be persisted, got %d", len(st.appended))
	}
	// 不标记已见, 下次运行还有机会重试
	if seen.IsDuplicate(link) {
		t.Errorf("failed item should not be marked as seen")
	}
}
