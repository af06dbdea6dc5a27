package ai

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// metaPromptTemplate 指导模型模仿参考范例生成新任务的分析标准。
const metaPromptTemplate = `
You are a world-class AI prompt engineering master. Your task is to generate a brand new "Analysis Criteria" text for the Xianyu monitoring bot's AI analysis module (codenamed EagleEye), based on the user-provided [Purchase Demand] and imitating a [Reference Example].

Your output must strictly follow the structure, tone, and core principles of the [Reference Example], but the content must be completely customized for the user's [Purchase Demand]. The final generated text will serve as the thinking guide for the AI analysis module.

---
This is the [Reference Example] (` + "`macbook_criteria.txt`" + `):
` + "```text\n%s\n```" + `
---

This is the user's [Purchase Demand]:
` + "```text\n%s\n```" + `
---

Please start generating the new "Analysis Criteria" text now. Note:
1.  **Only output the newly generated text content**, without any additional explanations, titles, or code block markers.
2.  Retain version markers from the example, such as ` + "`[V6.3 Core Upgrade]`" + ` and ` + "`[V6.4 Logic Correction]`" + `, to maintain format consistency.
3.  Replace all content related to "MacBook" in the example with content related to the user's desired product.
4.  Think about and generate "hard deal-breaker rules" and a "red flag list" for the new product type.
`

// GenerateCriteria 根据用户的购买需求, 参照范例文件生成新的分析标准文本。
func (a *Analyzer) GenerateCriteria(ctx context.Context, userDescription, referenceFilePath string) (string, error) {
	reference, err := os.ReadFile(referenceFilePath)
	if err != nil {
		return "", fmt.Errorf("read reference file: %w", err)
	}

	prompt := fmt.Sprintf(metaPromptTemplate, string(reference), userDescription)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		// 结构模仿类任务用较低温度, 输出更稳定
		Temperature: 0.5,
	})
	if err != nil {
		return "", fmt.Errorf("generate criteria: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generate criteria: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
