// Package model 定义抓取记录与任务的共享数据结构。
package model

import (
	"bytes"
	"encoding/json"
)

// ItemInfo 单个商品的信息。搜索结果阶段填充基础字段,
// 详情接口返回后补充图片与浏览量。
type ItemInfo struct {
	ItemID            string   `json:"item_id"`
	ItemTitle         string   `json:"item_title"`
	CurrentPrice      string   `json:"current_price"`
	OriginalPrice     string   `json:"original_price"`
	WantsCount        string   `json:"wants_count"`
	ViewsCount        string   `json:"views_count,omitempty"`
	ItemTags          []string `json:"item_tags"`
	Location          string   `json:"location"`
	SellerNickname    string   `json:"seller_nickname"`
	ItemLink          string   `json:"item_link"`
	PublishTime       string   `json:"publish_time"`
	ItemImageList     []string `json:"item_image_list,omitempty"`
	ItemMainImageLink string   `json:"item_main_image_link,omitempty"`
}

// Rating 卖家主页上的一条评价。
type Rating struct {
	RatingID      string   `json:"rating_id"`
	RatingContent string   `json:"rating_content"`
	RatingType    string   `json:"rating_type"`
	RaterRole     string   `json:"rater_role"`
	RaterNickname string   `json:"rater_nickname"`
	RatingTime    string   `json:"rating_time"`
	RatingImages  []string `json:"rating_images"`
}

// PublishedItem 卖家主页在售/已售列表中的一个商品。
type PublishedItem struct {
	ItemID        string `json:"item_id"`
	ItemTitle     string `json:"item_title"`
	ItemPrice     string `json:"item_price"`
	ItemMainImage string `json:"item_main_image"`
	ItemStatus    string `json:"item_status"`
}

// SellerInfo 卖家画像, 由主页头部、在售列表与评价列表聚合而成。
type SellerInfo struct {
	SellerNickname   string `json:"seller_nickname"`
	SellerAvatarLink string `json:"seller_avatar_link"`
	SellerBio        string `json:"seller_bio"`
	SellerItemsCount string `json:"seller_items_count"`
	SellerRatings    string `json:"seller_ratings_count"`
	SellerCredit     string `json:"seller_credit_level"`
	BuyerCredit      string `json:"buyer_credit_level"`

	SellerPublishedItems  []PublishedItem `json:"seller_published_items"`
	SellerReceivedRatings []Rating        `json:"seller_received_ratings"`

	PositiveReviewsAsSeller string `json:"positive_reviews_as_seller"`
	PositiveRateAsSeller    string `json:"positive_rate_as_seller"`
	PositiveReviewsAsBuyer  string `json:"positive_reviews_as_buyer"`
	PositiveRateAsBuyer     string `json:"positive_rate_as_buyer"`

	SellerZhimaCredit          string `json:"seller_zhima_credit"`
	SellerRegistrationDuration string `json:"seller_registration_duration"`
}

// AIAnalysis AI 分析结果。模型输出是自由 JSON, 这里只固定关心的键,
// 其余内容保留在 Raw 中原样落盘。
type AIAnalysis map[string]any

// IsRecommended 判断分析结果是否推荐该商品。
func (a AIAnalysis) IsRecommended() bool {
	v, ok := a["is_recommended"].(bool)
	return ok && v
}

// Reason 返回推荐理由, 缺失时给出占位文案。
func (a AIAnalysis) Reason() string {
	if v, ok := a["reason"].(string); ok && v != "" {
		return v
	}
	return "No reason provided"
}

// Record 一条完整的监控记录, 以 JSON 行的形式追加到结果文件。
type Record struct {
	CrawlTime     string      `json:"crawl_time"`
	SearchKeyword string      `json:"search_keyword"`
	TaskName      string      `json:"task_name"`
	ItemInfo      *ItemInfo   `json:"item_info"`
	SellerInfo    *SellerInfo `json:"seller_info"`
	AIAnalysis    AIAnalysis  `json:"ai_analysis,omitempty"`
}

// MarshalLine 序列化为单行 JSON, 不做 HTML 转义, 末尾带换行。
func (r *Record) MarshalLine() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
