package crawler

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
)

// notAvailable 接口缺字段时的统一占位值。
const notAvailable = "Not available"

// getString 取嵌套字段, 缺失或为空时返回默认值。
func getString(r gjson.Result, path, def string) string {
	v := r.Get(path)
	if !v.Exists() || v.String() == "" {
		return def
	}
	return v.String()
}

// ParseSearchResults 解析搜索接口响应, 返回本页商品的基础信息。
// resultList 缺失或为空时返回空列表。
func ParseSearchResults(body []byte, logger *slog.Logger) []*model.ItemInfo {
	if logger == nil {
		logger = slog.Default()
	}

	items := gjson.GetBytes(body, "data.resultList")
	if !items.Exists() || len(items.Array()) == 0 {
		logger.Info("搜索响应中没有商品列表")
		return []*model.ItemInfo{}
	}

	var result []*model.ItemInfo
	for _, item := range items.Array() {
		main := item.Get("data.item.main.exContent")
		clickArgs := item.Get("data.item.main.clickParam.args")

		info := &model.ItemInfo{
			ItemID:         getString(main, "itemId", "Unknown ID"),
			ItemTitle:      getString(main, "title", "Unknown Title"),
			CurrentPrice:   parseSearchPrice(main.Get("price")),
			OriginalPrice:  getString(main, "oriPrice", notAvailable),
			WantsCount:     getString(clickArgs, "wantNum", "NaN"),
			Location:       getString(main, "area", "Unknown Area"),
			SellerNickname: getString(main, "userNickName", "Anonymous Seller"),
			ItemLink:       NormalizeItemLink(item.Get("data.item.main.targetUrl").String()),
			PublishTime:    formatPublishTime(clickArgs.Get("publishTime").String()),
			ItemTags:       parseItemTags(main, clickArgs),
		}
		result = append(result, info)
	}
	logger.Info("搜索页解析完成", slog.Int("count", len(result)))
	return result
}

// parseSearchPrice 拼接价格片段并规整。
// 片段中带 "万" 时换算成元, 输出 "¥12300" 形式。
func parseSearchPrice(parts gjson.Result) string {
	if !parts.IsArray() {
		return "Abnormal Price"
	}
	var b strings.Builder
	for _, p := range parts.Array() {
		b.WriteString(p.Get("text").String())
	}
	price := strings.TrimSpace(strings.ReplaceAll(b.String(), "当前价", ""))

	if strings.Contains(price, "万") {
		numeric := strings.ReplaceAll(strings.ReplaceAll(price, "¥", ""), "万", "")
		if v, err := strconv.ParseFloat(numeric, 64); err == nil {
			return fmt.Sprintf("¥%.0f", v*10000)
		}
	}
	return price
}

// formatPublishTime 把毫秒时间戳转成 "2006-01-02 15:04", 非数字时返回占位值。
func formatPublishTime(ts string) string {
	if ts == "" || !isDigits(ts) {
		return "Unknown Time"
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "Unknown Time"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func parseItemTags(main, clickArgs gjson.Result) []string {
	tags := []string{}
	if clickArgs.Get("tag").String() == "freeship" {
		tags = append(tags, "Free Shipping")
	}
	for _, tag := range main.Get("fishTags.r1.tagList").Array() {
		content := tag.Get("data.content").String()
		if strings.Contains(content, "验货宝") || strings.Contains(content, "Inspection") {
			tags = append(tags, "Inspection Service")
		}
	}
	return tags
}

// DetailData 详情接口中关心的字段。
type DetailData struct {
	SellerID         string
	ZhimaCredit      string
	RegistrationDays int
	ImageList        []string
	WantsCount       string
	ViewsCount       string
}

// IsValidateBlocked 判断详情响应是否命中反爬人机校验。
func IsValidateBlocked(body []byte) bool {
	ret := gjson.GetBytes(body, "ret")
	return strings.Contains(ret.Raw, "FAIL_SYS_USER_VALIDATE")
}

// DetailFetchOK 判断详情接口是否成功返回。成功时 ret 形如
// ["SUCCESS::调用成功"]; 带 ret 且非 SUCCESS 的响应没有可用数据。
// ret 缺失的响应按成功处理, 交给后续解析兜底。
func DetailFetchOK(body []byte) bool {
	ret := gjson.GetBytes(body, "ret").Array()
	if len(ret) == 0 {
		return true
	}
	return strings.HasPrefix(ret[0].String(), "SUCCESS")
}

// ParseDetailData 解析详情接口响应。
func ParseDetailData(body []byte) *DetailData {
	itemDO := gjson.GetBytes(body, "data.itemDO")
	sellerDO := gjson.GetBytes(body, "data.sellerDO")

	d := &DetailData{
		SellerID:         sellerDO.Get("sellerId").String(),
		ZhimaCredit:      getString(sellerDO, "zhimaLevelInfo.levelName", notAvailable),
		RegistrationDays: int(sellerDO.Get("userRegDay").Int()),
		ViewsCount:       getString(itemDO, "browseCnt", "-"),
	}
	if v := itemDO.Get("wantCnt"); v.Exists() {
		d.WantsCount = v.String()
	}
	for _, img := range itemDO.Get("imageInfos").Array() {
		if url := img.Get("url").String(); url != "" {
			d.ImageList = append(d.ImageList, url)
		}
	}
	return d
}

// ApplyDetail 把详情数据合并进搜索阶段的商品信息。
func (d *DetailData) ApplyDetail(info *model.ItemInfo) {
	if len(d.ImageList) > 0 {
		info.ItemImageList = d.ImageList
		info.ItemMainImageLink = d.ImageList[0]
	}
	if d.WantsCount != "" {
		info.WantsCount = d.WantsCount
	}
	info.ViewsCount = d.ViewsCount
}

// ParseUserHead 解析卖家主页头部接口, 填充画像的概要字段。
func ParseUserHead(body []byte) *model.SellerInfo {
	data := gjson.GetBytes(body, "data")
	base := data.Get("module.base")

	info := &model.SellerInfo{
		SellerNickname:   getString(base, "displayName", notAvailable),
		SellerAvatarLink: getString(base, "avatar.avatar", notAvailable),
		SellerBio:        base.Get("introduction").String(),
		SellerItemsCount: getString(data, "module.tabs.item.number", notAvailable),
		SellerRatings:    getString(data, "module.tabs.rate.number", notAvailable),
		SellerCredit:     notAvailable,
		BuyerCredit:      notAvailable,
	}
	for _, tag := range base.Get("ylzTags").Array() {
		switch tag.Get("attributes.role").String() {
		case "seller":
			if text := tag.Get("text").String(); text != "" {
				info.SellerCredit = text
			}
		case "buyer":
			if text := tag.Get("text").String(); text != "" {
				info.BuyerCredit = text
			}
		}
	}
	return info
}

// ParseUserItems 解析主页商品列表接口累积的卡片。
func ParseUserItems(cards []gjson.Result) []model.PublishedItem {
	items := make([]model.PublishedItem, 0, len(cards))
	for _, card := range cards {
		data := card.Get("cardData")
		st := data.Get("itemStatus")
		var status string
		switch {
		case st.Exists() && st.Int() == 0:
			status = "For Sale"
		case st.Exists() && st.Int() == 1:
			status = "Sold"
		default:
			status = fmt.Sprintf("Unknown Status (%s)", st.Raw)
		}
		items = append(items, model.PublishedItem{
			ItemID:        data.Get("id").String(),
			ItemTitle:     data.Get("title").String(),
			ItemPrice:     data.Get("priceInfo.price").String(),
			ItemMainImage: data.Get("picInfo.picUrl").String(),
			ItemStatus:    status,
		})
	}
	return items
}

// ParseRatings 解析评价列表接口累积的卡片。
func ParseRatings(cards []gjson.Result) []model.Rating {
	ratings := make([]model.Rating, 0, len(cards))
	for _, card := range cards {
		data := card.Get("cardData")

		rateText := "Unknown"
		if rate := data.Get("rate"); rate.Exists() {
			switch rate.Int() {
			case 1:
				rateText = "Positive"
			case 0:
				rateText = "Neutral"
			case -1:
				rateText = "Negative"
			}
		}

		images := []string{}
		for _, pic := range data.Get("pictCdnUrlList").Array() {
			images = append(images, pic.String())
		}

		ratings = append(ratings, model.Rating{
			RatingID:      data.Get("rateId").String(),
			RatingContent: data.Get("feedback").String(),
			RatingType:    rateText,
			RaterRole:     getString(data, "rateTagList.0.text", "Unknown Role"),
			RaterNickname: data.Get("raterUserNick").String(),
			RatingTime:    data.Get("gmtCreate").String(),
			RatingImages:  images,
		})
	}
	return ratings
}

// ComputeReputation 从原始评价卡片统计买卖双向好评数据。
// 角色标签既非卖家也非买家的评价不计入任何一侧。
func ComputeReputation(cards []gjson.Result) (sellerReviews, sellerRate, buyerReviews, buyerRate string) {
	var sellerTotal, sellerPositive, buyerTotal, buyerPositive int

	for _, card := range cards {
		data := card.Get("cardData")
		role := data.Get("rateTagList.0.text").String()
		positive := data.Get("rate").Int() == 1 && data.Get("rate").Exists()

		switch {
		case strings.Contains(role, "卖家") || strings.Contains(role, "Seller"):
			sellerTotal++
			if positive {
				sellerPositive++
			}
		case strings.Contains(role, "买家") || strings.Contains(role, "Buyer"):
			buyerTotal++
			if positive {
				buyerPositive++
			}
		}
	}

	sellerRate = "N/A"
	if sellerTotal > 0 {
		sellerRate = fmt.Sprintf("%.2f%%", float64(sellerPositive)/float64(sellerTotal)*100)
	}
	buyerRate = "N/A"
	if buyerTotal > 0 {
		buyerRate = fmt.Sprintf("%.2f%%", float64(buyerPositive)/float64(buyerTotal)*100)
	}
	sellerReviews = fmt.Sprintf("%d/%d", sellerPositive, sellerTotal)
	buyerReviews = fmt.Sprintf("%d/%d", buyerPositive, buyerTotal)
	return
}

// FormatRegistrationDays 把注册天数转成 "X years and Y months" 描述。
func FormatRegistrationDays(totalDays int) string {
	if totalDays <= 0 {
		return "Unknown"
	}

	const daysInYear = 365.25
	const daysInMonth = daysInYear / 12

	years := int(math.Floor(float64(totalDays) / daysInYear))
	remaining := float64(totalDays) - float64(years)*daysInYear
	months := int(math.Round(remaining / daysInMonth))

	if months == 12 {
		years++
		months = 0
	}

	switch {
	case years > 0 && months > 0:
		return fmt.Sprintf("On Xianyu for %d years and %d months", years, months)
	case years > 0:
		return fmt.Sprintf("On Xianyu for %d years", years)
	case months > 0:
		return fmt.Sprintf("On Xianyu for %d months", months)
	default:
		return "On Xianyu for less than a month"
	}
}
