package plot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plot-rag-api/internal/application/generation"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/workflow/prompt"
	"plot-rag-api/pkg/logger"
	"plot-rag-api/pkg/metrics"
)

// SuggestionResult 建议结果
type SuggestionResult struct {
	Suggestions    []entity.Suggestion
	WasFallback    bool
	Cached         bool
	FallbackReason FallbackReason
	// AnalysisID 对应缓存条目，缓存写入失败时为空
	AnalysisID string
}

// suggestionPayload 缓存中的建议载荷
type suggestionPayload struct {
	Fingerprint    string              `json:"fingerprint"`
	Suggestions    []entity.Suggestion `json:"suggestions"`
	WasFallback    bool                `json:"was_fallback"`
	FallbackReason FallbackReason      `json:"fallback_reason,omitempty"`
}

// PlotFingerprint 剧情内容指纹，与 ID 和时间戳无关
func PlotFingerprint(p *entity.PlotStructure) string {
	if p == nil {
		return ""
	}
	b, _ := json.Marshal(struct {
		StructureType entity.StructureType `json:"structure_type"`
		Acts          []entity.PlotAct     `json:"acts"`
		Climax        string               `json:"climax"`
		Resolution    string               `json:"resolution"`
	}{p.StructureType, p.Acts, p.Climax, p.Resolution})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RequestSuggestions 为已有剧情生成改进建议。
// existing 为空时读取项目最新保存的剧情；命中指纹相同的缓存时直接返回。
func (p *Pipeline) RequestSuggestions(ctx context.Context, projectID string, existing *entity.PlotStructure) (*SuggestionResult, error) {
	start := p.now()
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidRequest)
	}

	ctx = logger.WithContext(ctx, logger.ProjectIDKey, projectID)
	ctx, span := tracer.Start(ctx, "plot.Pipeline.RequestSuggestions", trace.WithAttributes(
		attribute.String("project.id", projectID),
	))
	defer span.End()

	if existing == nil || len(existing.Acts) == 0 {
		latest, err := p.latestPlot(ctx, projectID)
		if err != nil {
			span.RecordError(err)
			p.observe("suggestions", "error", start)
			return nil, err
		}
		existing = latest
	}
	fingerprint := PlotFingerprint(existing)

	if cached := p.cachedSuggestions(ctx, projectID, fingerprint); cached != nil {
		span.SetAttributes(attribute.Bool("suggestions.cached", true))
		p.observe("suggestions", "cached", start)
		return cached, nil
	}

	contextText := ""
	results, err := p.retrieve(ctx, retrieval.Query{ProjectID: projectID, Text: suggestionQueryText(existing)})
	if err != nil {
		span.RecordError(err)
		p.observe("suggestions", "error", start)
		return nil, err
	}
	if len(results) > 0 {
		contextText = p.assembler.Assemble(results, p.cfg.CharBudget).Text()
	}

	res := &SuggestionResult{}
	items, reason := p.generateSuggestions(ctx, existing, contextText)
	if reason != ReasonNone {
		res.WasFallback = true
		res.FallbackReason = reason
		res.Suggestions = TemplateSuggestions(existing)
		metrics.PlotFallbackTotal.WithLabelValues("suggestions", string(reason)).Inc()
		logger.Warn(ctx, "suggestions fell back to template", "reason", string(reason))
	} else {
		res.Suggestions = items
	}

	res.AnalysisID = p.storeSuggestions(ctx, projectID, fingerprint, res)

	outcome := "success"
	if res.WasFallback {
		outcome = "fallback"
	}
	span.SetAttributes(attribute.Bool("suggestions.fallback", res.WasFallback))
	p.observe("suggestions", outcome, start)
	return res, nil
}

func (p *Pipeline) latestPlot(ctx context.Context, projectID string) (*entity.PlotStructure, error) {
	if p.plots == nil {
		return nil, fmt.Errorf("%w: plot is required", ErrInvalidRequest)
	}
	latest, err := p.plots.GetLatest(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load latest plot: %w", err)
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: project has no plot", ErrInvalidRequest)
	}
	return latest, nil
}

// cachedSuggestions 仅在指纹一致时复用缓存
func (p *Pipeline) cachedSuggestions(ctx context.Context, projectID, fingerprint string) *SuggestionResult {
	if p.cache == nil {
		return nil
	}
	hit, err := p.cache.GetLatest(ctx, projectID, entity.AnalysisKindSuggestions)
	if err != nil {
		logger.Warn(ctx, "analysis cache lookup failed", "error", err.Error())
		return nil
	}
	if hit == nil {
		return nil
	}
	var payload suggestionPayload
	if err := json.Unmarshal(hit.Payload, &payload); err != nil {
		logger.Warn(ctx, "cached suggestions are unreadable", "analysis_id", hit.ID, "error", err.Error())
		return nil
	}
	if payload.Fingerprint != fingerprint || len(payload.Suggestions) == 0 {
		return nil
	}
	return &SuggestionResult{
		Suggestions:    payload.Suggestions,
		WasFallback:    payload.WasFallback,
		FallbackReason: payload.FallbackReason,
		Cached:         true,
		AnalysisID:     hit.ID,
	}
}

func (p *Pipeline) generateSuggestions(ctx context.Context, existing *entity.PlotStructure, contextText string) ([]entity.Suggestion, FallbackReason) {
	if p.generator == nil {
		return nil, ReasonGenerationUnavailable
	}
	plotJSON, _ := json.MarshalIndent(struct {
		Acts       []entity.PlotAct `json:"acts"`
		Climax     string           `json:"climax"`
		Resolution string           `json:"resolution"`
	}{existing.Acts, existing.Climax, existing.Resolution}, "", "  ")

	rendered, err := p.prompts.Render(ctx, prompt.PromptPlotSuggestionsV1, map[string]any{
		"structure_type": string(NormalizeStructureType(existing.StructureType)),
		"plot":           string(plotJSON),
		"context":        orNone(contextText),
	})
	if err != nil {
		logger.Error(ctx, "render suggestions prompt failed", err)
		return nil, ReasonPromptError
	}

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationDeadline)
	defer cancel()

	// 复杂度为 0，始终使用快速模型
	resp, err := p.generator.Generate(genCtx, generation.Request{
		Prompt:       rendered.User,
		SystemPrompt: rendered.System,
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
		Workflow:     workflowSuggestions,
	})
	if err != nil {
		reason := classifyFailure(ctx, genCtx, err)
		logger.Warn(ctx, "suggestion generation failed",
			"reason", string(reason),
			"attempts", generation.AttemptsOf(err),
			"error", err.Error(),
		)
		return nil, reason
	}
	items, err := ParseSuggestions(resp.Text)
	if err != nil {
		logger.Warn(ctx, "suggestion response could not be parsed", "error", err.Error())
		return nil, ReasonParseError
	}
	return items, ReasonNone
}

// storeSuggestions 写入缓存，降级结果使用较短 TTL
func (p *Pipeline) storeSuggestions(ctx context.Context, projectID, fingerprint string, res *SuggestionResult) string {
	if p.cache == nil {
		return ""
	}
	payload, err := json.Marshal(suggestionPayload{
		Fingerprint:    fingerprint,
		Suggestions:    res.Suggestions,
		WasFallback:    res.WasFallback,
		FallbackReason: res.FallbackReason,
	})
	if err != nil {
		logger.Error(ctx, "encode suggestions failed", err)
		return ""
	}
	ttl := p.cfg.SuggestionTTL
	if res.WasFallback {
		ttl = p.cfg.FallbackTTL
	}
	stored, err := p.cache.Put(ctx, projectID, entity.AnalysisKindSuggestions, payload, ttl)
	if err != nil {
		logger.Error(ctx, "cache suggestions failed", err)
		return ""
	}
	return stored.ID
}

func suggestionQueryText(p *entity.PlotStructure) string {
	parts := make([]string, 0, len(p.Acts)+1)
	for _, a := range p.Acts {
		parts = append(parts, a.Title)
	}
	if p.Climax != "" {
		parts = append(parts, p.Climax)
	}
	return strings.Join(parts, "\n")
}
