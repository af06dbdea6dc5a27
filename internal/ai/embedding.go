package ai

import (
	"context"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
)

// EmbeddingFilter 用标题与参考文本的语义相似度做进入详情页前的预筛选,
// 过滤掉明显不相关的商品, 省下详情抓取与 AI 分析的开销。
type EmbeddingFilter struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewEmbeddingFilter(cfg *config.Config, logger *slog.Logger) *EmbeddingFilter {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.AI.APIKey)
	clientCfg.BaseURL = cfg.AI.BaseURL
	return &EmbeddingFilter{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.AI.EmbeddingModel,
		logger: logger,
	}
}

// Passes 判断标题是否通过任务配置的语义筛选。
//
// 未配置筛选、没有参考文本、标题为空或 embedding 服务不可用时
// 一律放行, 筛选只在万事俱备时才收紧。
func (f *EmbeddingFilter) Passes(ctx context.Context, title string, cfg *model.EmbeddingFilter) bool {
	if f == nil || cfg == nil || len(cfg.ReferenceTexts) == 0 || title == "" {
		return true
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 0.5
	}

	inputs := append([]string{title}, cfg.ReferenceTexts...)
	resp, err := f.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(f.model),
		Input: inputs,
	})
	if err != nil || len(resp.Data) != len(inputs) {
		f.logger.Warn("embedding 服务不可用, 跳过语义筛选",
			slog.String("title", title))
		return true
	}

	titleVec := resp.Data[0].Embedding
	for _, ref := range resp.Data[1:] {
		if cosineSimilarity(titleVec, ref.Embedding) >= threshold {
			return true
		}
	}
	f.logger.Info("语义筛选未通过", slog.String("title", title))
	return false
}

// cosineSimilarity 计算两个向量的余弦相似度, 长度不一致或零向量返回 0。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
