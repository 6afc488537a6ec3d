// Package generation 提供带重试与模型选择的生成调用客户端
package generation

import "context"

// Call 单次外部生成调用
type Call struct {
	Provider     string
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion 外部生成结果
type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Provider 外部生成模型端口，由基础设施层实现
type Provider interface {
	Complete(ctx context.Context, call Call) (*Completion, error)
}

// ProviderFunc 函数形式的 Provider
type ProviderFunc func(ctx context.Context, call Call) (*Completion, error)

func (f ProviderFunc) Complete(ctx context.Context, call Call) (*Completion, error) {
	return f(ctx, call)
}
