package model

// EmbeddingFilter 可选的语义预筛选配置。
// 标题与任一参考文本的余弦相似度达到阈值才进入后续流程。
type EmbeddingFilter struct {
	ReferenceTexts []string `json:"reference_texts"`
	Threshold      float64  `json:"threshold"`
}

// Task 一个监控任务的完整配置, 持久化在任务配置文件的数组中。
type Task struct {
	TaskName     string `json:"task_name"`
	Enabled      bool   `json:"enabled"`
	Keyword      string `json:"keyword"`
	Description  string `json:"description,omitempty"`
	MaxPages     int    `json:"max_pages"`
	PersonalOnly bool   `json:"personal_only,omitempty"`
	MinPrice     string `json:"min_price,omitempty"`
	MaxPrice     string `json:"max_price,omitempty"`

	// 新式提示词: 基础模板 + 针对该任务的判断标准
	AIPromptBaseFile     string `json:"ai_prompt_base_file,omitempty"`
	AIPromptCriteriaFile string `json:"ai_prompt_criteria_file,omitempty"`
	// 旧式提示词: 单个完整文件
	AIPromptFile string `json:"ai_prompt_file,omitempty"`

	EmbeddingFilter *EmbeddingFilter `json:"embedding_filter,omitempty"`
}

// DisplayName 返回任务名, 未命名时给出占位文案。
func (t *Task) DisplayName() string {
	if t.TaskName != "" {
		return t.TaskName
	}
	return "Untitled Task"
}
