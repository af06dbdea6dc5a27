// Package ai 封装 OpenAI 兼容接口: 商品分析、判断标准生成与语义筛选。
package ai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dingyufei615/ai-goofish-monitor/internal/config"
	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/metrics"
	"github.com/dingyufei615/ai-goofish-monitor/internal/pkg/retry"
)

const (
	analysisRetries  = 5
	analysisInterval = 10 * time.Second
)

// Analyzer 把完整记录与商品图片交给大模型做买前分析。
type Analyzer struct {
	client *openai.Client
	model  string
	debug  bool
	logger *slog.Logger
}

// NewAnalyzer 创建分析器。BaseURL 与模型名必须非空, 由上层先行校验。
func NewAnalyzer(cfg *config.Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	clientCfg := openai.DefaultConfig(cfg.AI.APIKey)
	clientCfg.BaseURL = cfg.AI.BaseURL
	return &Analyzer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.AI.ModelName,
		debug:  cfg.App.AIDebugMode,
		logger: logger,
	}
}

// Analyze 分析一条完整记录, 返回模型给出的 JSON 结果。
// promptText 为空时直接返回错误, 上层据此跳过分析。
// 内部带重试, 全部失败时返回最后一次错误。
func (a *Analyzer) Analyze(ctx context.Context, promptText string, rec *model.Record, imagePaths []string) (model.AIAnalysis, error) {
	if promptText == "" {
		return nil, fmt.Errorf("ai prompt text is empty")
	}

	recordJSON, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	prompt := fmt.Sprintf("%s\n\nPlease analyze the following complete product JSON data based on your expertise and my requirements:\n\n```json\n%s\n```", promptText, recordJSON)

	if a.debug {
		a.logger.Debug("AI 请求内容",
			slog.String("prompt_head", truncate(promptText, 500)),
			slog.Int("record_bytes", len(recordJSON)),
			slog.Int("images", len(imagePaths)))
	}

	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: prompt},
	}
	for _, path := range imagePaths {
		dataURL, err := encodeImageDataURL(path)
		if err != nil {
			a.logger.Warn("图片编码失败, 该图不参与分析",
				slog.String("path", path),
				slog.String("error", err.Error()))
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
		})
	}

	req := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	analysis, err := retry.DoValue(ctx, analysisRetries, analysisInterval, func() (model.AIAnalysis, error) {
		return a.callOnce(ctx, req)
	})
	metrics.AIRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AIRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.AIRequestsTotal.WithLabelValues("ok").Inc()
	return analysis, nil
}

func (a *Analyzer) callOnce(ctx context.Context, req openai.ChatCompletionRequest) (model.AIAnalysis, error) {
	resp, err := a.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: empty choices")
	}
	content := resp.Choices[0].Message.Content

	if a.debug {
		a.logger.Debug("AI 原始响应", slog.String("content", content))
	}

	cleaned, err := extractJSONObject(content)
	if err != nil {
		return nil, err
	}

	var analysis model.AIAnalysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return nil, fmt.Errorf("parse ai response: %w", err)
	}
	return analysis, nil
}

// extractJSONObject 从模型输出中截取 JSON 对象。
// 模型偶尔会把 JSON 包在 Markdown 代码块里, 取第一个 '{' 到
// 最后一个 '}' 之间的内容。
func extractJSONObject(content string) (string, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in ai response")
	}
	return content[start : end+1], nil
}

func encodeImageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
