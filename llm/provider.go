package llm

import "context"

// CompletionRequest 表示一次补全请求。
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Usage Token 用量统计。
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost,omitempty"`
}

// CompletionResponse 表示一次补全响应。
type CompletionResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Provider 是统一的语言模型服务接口。
type Provider interface {
	// Complete 生成给定提示词的补全。
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Embed 生成文本的嵌入向量。
	Embed(ctx context.Context, text string) ([]float64, error)

	// Name 返回提供者名称。
	Name() string
}
