package plot

import (
	"context"
	"errors"

	"plot-rag-api/internal/application/generation"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/workflow/prompt"
)

// Stage 流水线阶段
type Stage string

const (
	StageRetrieving  Stage = "retrieving"
	StageAssembling  Stage = "assembling"
	StageGenerating  Stage = "generating"
	StageParsing     Stage = "parsing"
	StageSuccess     Stage = "success"
	StageFallingBack Stage = "falling_back"
	StageDone        Stage = "done"
)

// FallbackReason 降级原因
type FallbackReason string

const (
	ReasonNone                  FallbackReason = ""
	ReasonExhaustedRetries      FallbackReason = "exhausted_retries"
	ReasonDeadline              FallbackReason = "deadline"
	ReasonCanceled              FallbackReason = "canceled"
	ReasonParseError            FallbackReason = "parse_error"
	ReasonPromptError           FallbackReason = "prompt_error"
	ReasonGenerationUnavailable FallbackReason = "generation_unavailable"
)

// upstreamReason 终止性上游错误的原因，如 upstream_client_error
func upstreamReason(kind generation.ErrorKind) FallbackReason {
	return FallbackReason("upstream_" + string(kind))
}

// Retriever 检索端口
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]entity.RetrievalResult, error)
}

// ContextAssembler 上下文组装端口
type ContextAssembler interface {
	Assemble(results []entity.RetrievalResult, charBudget int) entity.AssembledContext
}

// Generator 生成端口
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Response, error)
}

// PromptRenderer 提示词渲染端口
type PromptRenderer interface {
	Render(ctx context.Context, id prompt.PromptID, vars map[string]any) (*prompt.Rendered, error)
}

var (
	_ Retriever        = (*retrieval.Engine)(nil)
	_ ContextAssembler = (*retrieval.Assembler)(nil)
	_ Generator        = (*generation.Client)(nil)
	_ PromptRenderer   = (*prompt.Registry)(nil)
)

// classifyFailure 将生成阶段的错误映射为降级原因。
// callerCtx 已结束视为取消；genCtx 截止视为 deadline。
func classifyFailure(callerCtx, genCtx context.Context, err error) FallbackReason {
	if callerCtx.Err() != nil {
		return ReasonCanceled
	}
	if errors.Is(err, generation.ErrExhaustedRetries) {
		return ReasonExhaustedRetries
	}
	if errors.Is(genCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonDeadline
	}
	var ue *generation.UpstreamError
	if errors.As(err, &ue) {
		// 未配置 Provider 也以 malformed_request 返回，但不带 ErrMalformedRequest
		if ue.Kind == generation.KindMalformedRequest && !errors.Is(err, generation.ErrMalformedRequest) {
			return ReasonGenerationUnavailable
		}
		return upstreamReason(ue.Kind)
	}
	return ReasonGenerationUnavailable
}
