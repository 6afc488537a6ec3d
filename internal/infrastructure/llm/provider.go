package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/meguminnnnnnnnn/go-openai"

	"plot-rag-api/internal/application/generation"
)

// ModelSource 按提供商名称获取 ChatModel
type ModelSource interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

var _ ModelSource = (*EinoFactory)(nil)

// EinoProvider 以 Eino ChatModel 实现 generation.Provider
type EinoProvider struct {
	models ModelSource
}

var _ generation.Provider = (*EinoProvider)(nil)

// NewEinoProvider 创建 Provider
func NewEinoProvider(models ModelSource) *EinoProvider {
	return &EinoProvider{models: models}
}

// Complete 发起一次非流式生成
func (p *EinoProvider) Complete(ctx context.Context, call generation.Call) (*generation.Completion, error) {
	if strings.TrimSpace(call.Prompt) == "" {
		return nil, generation.ErrMalformedRequest
	}
	chatModel, err := p.models.Get(ctx, call.Provider)
	if err != nil {
		return nil, err
	}

	messages := make([]*schema.Message, 0, 2)
	if call.SystemPrompt != "" {
		messages = append(messages, schema.SystemMessage(call.SystemPrompt))
	}
	messages = append(messages, schema.UserMessage(call.Prompt))

	opts := make([]model.Option, 0, 3)
	if call.Model != "" {
		opts = append(opts, model.WithModel(call.Model))
	}
	if call.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(call.Temperature)))
	}
	if call.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(call.MaxTokens))
	}

	msg, err := chatModel.Generate(ctx, messages, opts...)
	if err != nil {
		return nil, classifyModelError(err)
	}
	if msg == nil {
		return nil, generation.NewStatusError(502, nil)
	}

	out := &generation.Completion{Text: msg.Content, Model: call.Model}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		out.Usage = generation.Usage{
			PromptTokens:     msg.ResponseMeta.Usage.PromptTokens,
			CompletionTokens: msg.ResponseMeta.Usage.CompletionTokens,
		}
	}
	return out, nil
}

// classifyModelError 按 OpenAI 兼容客户端返回的 HTTP 状态码分类
func classifyModelError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return generation.NewStatusError(apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return generation.NewStatusError(reqErr.HTTPStatusCode, err)
	}
	return err
}
