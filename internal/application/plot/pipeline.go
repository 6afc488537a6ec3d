package plot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/application/generation"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/domain/repository"
	"plot-rag-api/internal/workflow/prompt"
	"plot-rag-api/pkg/logger"
	"plot-rag-api/pkg/metrics"
)

var tracer = otel.Tracer("plot")

const (
	workflowPlot        = "plot_structure"
	workflowSuggestions = "plot_suggestions"

	defaultGenerationDeadline = 60 * time.Second
	defaultFallbackTTL        = 10 * time.Minute
)

// ErrInvalidRequest 请求缺少必要字段
var ErrInvalidRequest = errors.New("invalid plot request")

// Config 流水线参数
type Config struct {
	CharBudget          int
	GenerationDeadline  time.Duration
	DefaultStructure    entity.StructureType
	DefaultTargetLength int
	Temperature         float64
	MaxTokens           int
	Persist             bool

	SuggestionTTL time.Duration
	FallbackTTL   time.Duration
}

func (c Config) normalized() Config {
	if c.CharBudget <= 0 {
		c.CharBudget = retrieval.DefaultCharBudget
	}
	if c.GenerationDeadline <= 0 {
		c.GenerationDeadline = defaultGenerationDeadline
	}
	if c.DefaultTargetLength <= 0 {
		c.DefaultTargetLength = DefaultTargetLength
	}
	c.DefaultStructure = NormalizeStructureType(c.DefaultStructure)
	if c.FallbackTTL <= 0 {
		c.FallbackTTL = defaultFallbackTTL
	}
	return c
}

// PlotRequest 剧情生成请求
type PlotRequest struct {
	ProjectID     string
	StructureType entity.StructureType
	TargetLength  int
	CharacterIDs  []string
	// Provider 为空时使用默认提供商
	Provider     string
	Instructions string
}

// PlotResult 剧情生成结果，WasFallback 表示来自模板
type PlotResult struct {
	Plot           *entity.PlotStructure
	WasFallback    bool
	FallbackReason FallbackReason
	Stages         []Stage
	Model          string
	Attempts       int
	References     []string
}

// Pipeline 剧情流水线：检索 → 组装 → 生成 → 解析 → 成功或模板降级
type Pipeline struct {
	retriever Retriever
	assembler ContextAssembler
	generator Generator
	prompts   PromptRenderer
	plots     repository.PlotRepository
	cache     analysis.Cache
	cfg       Config

	now   func() time.Time
	newID func() string
}

// Option 流水线选项
type Option func(*Pipeline)

// WithClock 替换时间来源
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithIDGenerator 替换剧情 ID 生成
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithPromptRenderer 替换提示词渲染
func WithPromptRenderer(r PromptRenderer) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.prompts = r
		}
	}
}

// NewPipeline 创建流水线。retriever、plots、cache 可为 nil。
func NewPipeline(
	retriever Retriever,
	assembler ContextAssembler,
	generator Generator,
	plots repository.PlotRepository,
	cache analysis.Cache,
	cfg Config,
	opts ...Option,
) *Pipeline {
	if assembler == nil {
		assembler = retrieval.NewAssembler(retrieval.DefaultMaxPerType)
	}
	p := &Pipeline{
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		prompts:   prompt.NewRegistry(),
		plots:     plots,
		cache:     cache,
		cfg:       cfg.normalized(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RequestPlot 生成剧情结构。除维度不一致与参数错误外不返回错误，上游失败一律降级为模板剧情。
func (p *Pipeline) RequestPlot(ctx context.Context, req PlotRequest) (*PlotResult, error) {
	start := p.now()
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	if req.ProjectID == "" {
		return nil, fmt.Errorf("%w: project_id is required", ErrInvalidRequest)
	}
	st := p.cfg.DefaultStructure
	if strings.TrimSpace(string(req.StructureType)) != "" {
		st = NormalizeStructureType(req.StructureType)
	}
	target := req.TargetLength
	if target <= 0 {
		target = p.cfg.DefaultTargetLength
	}

	ctx = logger.WithContext(ctx, logger.ProjectIDKey, req.ProjectID)
	ctx, span := tracer.Start(ctx, "plot.Pipeline.RequestPlot", trace.WithAttributes(
		attribute.String("project.id", req.ProjectID),
		attribute.String("plot.structure_type", string(st)),
		attribute.Int("plot.target_length", target),
	))
	defer span.End()

	res := &PlotResult{}
	enter := func(s Stage) {
		res.Stages = append(res.Stages, s)
		logger.Debug(ctx, "plot pipeline stage", string(logger.StageKey), string(s))
	}

	enter(StageRetrieving)
	results, err := p.retrieve(ctx, retrieval.Query{ProjectID: req.ProjectID, Text: plotQueryText(req, st)})
	if err != nil {
		span.RecordError(err)
		p.observe("plot", "error", start)
		return nil, err
	}

	enter(StageAssembling)
	assembled := p.assembler.Assemble(results, p.cfg.CharBudget)
	contextText := assembled.Text()
	res.References = assembled.References
	metrics.ContextChars.Observe(float64(utf8.RuneCountInString(contextText)))

	enter(StageGenerating)
	resp, attempts, reason := p.generatePlot(ctx, req, st, target, contextText)
	res.Attempts = attempts
	if reason == ReasonNone {
		res.Model = resp.Model

		enter(StageParsing)
		parsed, perr := ParsePlot(resp.Text)
		if perr == nil {
			enter(StageSuccess)
			res.Plot = p.buildPlot(req, st, target, parsed, resp.Model)
			p.persist(ctx, res.Plot)
			enter(StageDone)
			span.SetAttributes(attribute.Bool("plot.fallback", false))
			p.observe("plot", "success", start)
			logger.Info(ctx, "plot generated",
				"plot_id", res.Plot.ID,
				"model", res.Model,
				"attempts", res.Attempts,
				"acts", len(res.Plot.Acts),
				"references", len(res.References),
			)
			return res, nil
		}
		logger.Warn(ctx, "model response could not be parsed", "error", perr.Error())
		reason = ReasonParseError
	}

	enter(StageFallingBack)
	res.WasFallback = true
	res.FallbackReason = reason
	res.Plot = p.templatePlot(req, st, target)
	enter(StageDone)

	metrics.PlotFallbackTotal.WithLabelValues("plot", string(reason)).Inc()
	span.SetAttributes(attribute.Bool("plot.fallback", true), attribute.String("plot.fallback_reason", string(reason)))
	p.observe("plot", "fallback", start)
	logger.Warn(ctx, "plot generation fell back to template",
		"reason", string(reason),
		"structure_type", string(st),
		"attempts", res.Attempts,
	)
	return res, nil
}

// retrieve 检索失败时降级为空上下文，仅维度不一致向上返回
func (p *Pipeline) retrieve(ctx context.Context, q retrieval.Query) ([]entity.RetrievalResult, error) {
	if p.retriever == nil {
		return nil, nil
	}
	results, err := p.retriever.Retrieve(ctx, q)
	switch {
	case err == nil:
		return results, nil
	case retrieval.IsDimensionMismatch(err):
		return nil, err
	case errors.Is(err, retrieval.ErrVectorDisabled):
		logger.Debug(ctx, "vector retrieval disabled, continuing without context")
	default:
		logger.Warn(ctx, "retrieval failed, continuing without context", "error", err.Error())
	}
	return nil, nil
}

// generatePlot 在整体截止时间内调用生成，失败时返回降级原因
func (p *Pipeline) generatePlot(ctx context.Context, req PlotRequest, st entity.StructureType, target int, contextText string) (*generation.Response, int, FallbackReason) {
	if p.generator == nil {
		return nil, 0, ReasonGenerationUnavailable
	}
	rendered, err := p.prompts.Render(ctx, prompt.PromptPlotStructureV1, map[string]any{
		"structure_type":  string(st),
		"target_length":   strconv.Itoa(target),
		"character_names": joinOrNone(req.CharacterIDs),
		"context":         orNone(contextText),
		"instructions":    orNone(strings.TrimSpace(req.Instructions)),
	})
	if err != nil {
		logger.Error(ctx, "render plot prompt failed", err)
		return nil, 0, ReasonPromptError
	}

	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationDeadline)
	defer cancel()

	resp, err := p.generator.Generate(genCtx, generation.Request{
		Prompt:       rendered.User,
		SystemPrompt: rendered.System,
		Complexity:   generation.ComplexityScore(st, target, len(req.CharacterIDs)),
		Provider:     req.Provider,
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
		Workflow:     workflowPlot,
	})
	if err != nil {
		reason := classifyFailure(ctx, genCtx, err)
		attempts := generation.AttemptsOf(err)
		logger.Warn(ctx, "plot generation failed", "reason", string(reason), "attempts", attempts, "error", err.Error())
		return nil, attempts, reason
	}
	return resp, resp.Attempts, ReasonNone
}

func (p *Pipeline) buildPlot(req PlotRequest, st entity.StructureType, target int, parsed *ParsedPlot, model string) *entity.PlotStructure {
	now := p.now()
	acts := parsed.Acts
	applyActLengths(acts, target)
	return &entity.PlotStructure{
		ID:            p.newID(),
		ProjectID:     req.ProjectID,
		StructureType: st,
		Acts:          acts,
		Climax:        parsed.Climax,
		Resolution:    parsed.Resolution,
		Source:        entity.PlotSourceLLM,
		Model:         model,
		CharacterIDs:  append([]string(nil), req.CharacterIDs...),
		TargetLength:  target,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (p *Pipeline) templatePlot(req PlotRequest, st entity.StructureType, target int) *entity.PlotStructure {
	now := p.now()
	plot := GenerateTemplate(st, target)
	plot.ID = p.newID()
	plot.ProjectID = req.ProjectID
	plot.CharacterIDs = append([]string(nil), req.CharacterIDs...)
	plot.CreatedAt = now
	plot.UpdatedAt = now
	return plot
}

// persist 尽力保存，失败只记录日志
func (p *Pipeline) persist(ctx context.Context, plot *entity.PlotStructure) {
	if !p.cfg.Persist || p.plots == nil || plot == nil {
		return
	}
	if err := p.plots.Save(ctx, plot); err != nil {
		logger.Error(ctx, "persist plot failed", err, "plot_id", plot.ID)
	}
}

func (p *Pipeline) observe(kind, outcome string, start time.Time) {
	metrics.PlotRequestsTotal.WithLabelValues(kind, outcome).Inc()
	metrics.PlotPipelineDuration.WithLabelValues(kind, outcome).Observe(p.now().Sub(start).Seconds())
}

func plotQueryText(req PlotRequest, st entity.StructureType) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(req.Instructions); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, "plot structure "+strings.ReplaceAll(string(st), "_", " "))
	if len(req.CharacterIDs) > 0 {
		parts = append(parts, "characters "+strings.Join(req.CharacterIDs, " "))
	}
	return strings.Join(parts, "\n")
}

func joinOrNone(items []string) string {
	clean := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return "none"
	}
	return strings.Join(clean, ", ")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
