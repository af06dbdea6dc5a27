// Package delay 提供带随机抖动的等待, 用于模拟人工浏览节奏。
package delay

import (
	"context"
	"math/rand"
	"time"
)

// Range 表示一个随机等待区间, 实际等待时间在 [Min, Max] 内均匀分布。
type Range struct {
	Min time.Duration
	Max time.Duration
}

// 抓取流程中使用的节奏区间。数值偏保守, 过快会触发风控。
var (
	AfterTabSwitch   = Range{2 * time.Second, 4 * time.Second}
	AfterSortApply   = Range{4 * time.Second, 7 * time.Second}
	AfterFilterApply = Range{4 * time.Second, 6 * time.Second}
	AfterPriceInput  = Range{1 * time.Second, 2500 * time.Millisecond}
	BeforeDetail     = Range{3 * time.Second, 6 * time.Second}
	AfterDetailClose = Range{2 * time.Second, 4 * time.Second}
	AfterItemDone    = Range{15 * time.Second, 30 * time.Second}
	BetweenPages     = Range{25 * time.Second, 50 * time.Second}
	AfterNextPage    = Range{5 * time.Second, 8 * time.Second}
	AfterRatingsTab  = Range{3 * time.Second, 5 * time.Second}
	ProfileFirstLoad = Range{2 * time.Second, 4 * time.Second}
	ValidateCooldown = Range{300 * time.Second, 600 * time.Second}
)

// Pick 在区间内取一个随机时长。
func (r Range) Pick() time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rand.Int63n(int64(r.Max-r.Min)))
}

// Sleep 等待区间内的随机时长, ctx 取消时提前返回 ctx.Err()。
func Sleep(ctx context.Context, r Range) error {
	t := time.NewTimer(r.Pick())
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
