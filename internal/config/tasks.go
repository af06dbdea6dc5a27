package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dingyufei615/ai-goofish-monitor/internal/model"
)

// criteriaPlaceholder 基础提示词模板中被任务判断标准替换的占位符。
const criteriaPlaceholder = "{{CRITERIA_SECTION}}"

// LoadTasks 从 JSON 文件读取任务列表。空文件视为空列表。
func LoadTasks(path string) ([]model.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return []model.Task{}, nil
	}

	var tasks []model.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse tasks file: %w", err)
	}
	return tasks, nil
}

// SaveTasks 将任务列表写回 JSON 文件。
func SaveTasks(path string, tasks []model.Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tasks: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write tasks file: %w", err)
	}
	return nil
}

// AppendTask 读取任务文件, 追加一个任务后写回。文件不存在时创建。
func AppendTask(path string, task model.Task) error {
	tasks, err := LoadTasks(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		tasks = []model.Task{}
	}
	tasks = append(tasks, task)
	return SaveTasks(path, tasks)
}

// BuildPromptText 组装任务的 AI 提示词。
//
// 优先使用 基础模板 + 判断标准 的新式配置, 模板中的占位符会被
// 判断标准文件内容替换; 只配置了旧式单文件时直接读取该文件。
// 提示词文件缺失只告警, 返回空串, 上层据此跳过 AI 分析。
func BuildPromptText(logger *slog.Logger, task *model.Task) string {
	if logger == nil {
		logger = slog.Default()
	}

	if task.AIPromptBaseFile != "" && task.AIPromptCriteriaFile != "" {
		base, err := os.ReadFile(task.AIPromptBaseFile)
		if err != nil {
			logger.Warn("基础提示词文件读取失败, 该任务跳过 AI 分析",
				slog.String("task", task.DisplayName()),
				slog.String("file", task.AIPromptBaseFile),
				slog.String("error", err.Error()))
			return ""
		}
		criteria, err := os.ReadFile(task.AIPromptCriteriaFile)
		if err != nil {
			logger.Warn("判断标准文件读取失败, 该任务跳过 AI 分析",
				slog.String("task", task.DisplayName()),
				slog.String("file", task.AIPromptCriteriaFile),
				slog.String("error", err.Error()))
			return ""
		}
		return strings.Replace(string(base), criteriaPlaceholder, string(criteria), 1)
	}

	if task.AIPromptFile != "" {
		text, err := os.ReadFile(task.AIPromptFile)
		if err != nil {
			logger.Warn("提示词文件读取失败, 该任务跳过 AI 分析",
				slog.String("task", task.DisplayName()),
				slog.String("file", task.AIPromptFile),
				slog.String("error", err.Error()))
			return ""
		}
		return string(text)
	}

	logger.Warn("任务未配置提示词, 跳过 AI 分析", slog.String("task", task.DisplayName()))
	return ""
}
