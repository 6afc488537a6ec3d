package generation

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"plot-rag-api/internal/domain/service"
	"plot-rag-api/pkg/logger"
	"plot-rag-api/pkg/metrics"
)

var tracer = otel.Tracer("generation")

// Request 生成请求
type Request struct {
	Prompt       string
	SystemPrompt string
	// Complexity 用于模型选择，Model 非空时忽略
	Complexity  float64
	Model       string
	Provider    string
	Temperature float64
	MaxTokens   int
	Workflow    string
}

// Response 生成结果
type Response struct {
	Text     string
	Model    string
	Provider string
	Attempts int
	Usage    Usage
}

// Client 对 Provider 的重试封装，只负责分类与重试，不做降级
type Client struct {
	provider        Provider
	selector        ModelSelector
	policy          RetryPolicy
	defaultProvider string
	attemptTimeout  time.Duration

	sleep    Sleeper
	observer func(RetryState)

	rndMu sync.Mutex
	rnd   func() float64
}

// Option 客户端选项
type Option func(*Client)

// WithSleeper 替换退避等待实现
func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

// WithRetryObserver 每次失败后回调当前重试状态
func WithRetryObserver(fn func(RetryState)) Option {
	return func(c *Client) { c.observer = fn }
}

// WithAttemptTimeout 设置单次调用超时，0 表示仅受调用方 ctx 约束
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithDefaultProvider 请求未指定提供商时使用
func WithDefaultProvider(name string) Option {
	return func(c *Client) { c.defaultProvider = strings.TrimSpace(name) }
}

// WithJitterSeed 使用固定种子生成抖动，便于复现
func WithJitterSeed(seed uint64) Option {
	return func(c *Client) {
		r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
		c.rnd = r.Float64
	}
}

// NewClient 创建生成客户端
func NewClient(provider Provider, selector ModelSelector, policy RetryPolicy, opts ...Option) *Client {
	c := &Client{
		provider: provider,
		selector: selector,
		policy:   policy.normalized(),
		sleep:    contextSleep,
		rnd:      rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SelectModel 按复杂度选择模型
func (c *Client) SelectModel(complexity float64) string {
	return c.selector.SelectModel(complexity)
}

// Generate 调用 Provider，对可重试错误按策略退避重试。
// 终止性错误立即返回；重试耗尽返回 *ExhaustedRetriesError；调用方取消返回包装后的 ctx 错误。
// 失败时已发起的调用次数可由 AttemptsOf 取得。
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	if c == nil || c.provider == nil {
		return nil, &UpstreamError{Kind: KindMalformedRequest, Err: errors.New("generation provider is not configured")}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &UpstreamError{Kind: KindMalformedRequest, Err: ErrMalformedRequest}
	}

	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = c.selector.SelectModel(req.Complexity)
	}
	providerName := strings.TrimSpace(req.Provider)
	if providerName == "" {
		providerName = c.defaultProvider
	}

	ctx, span := tracer.Start(ctx, "generation.Generate", trace.WithAttributes(
		attribute.String("llm.provider", providerName),
		attribute.String("llm.model", modelName),
		attribute.Float64("llm.complexity", req.Complexity),
	))
	defer span.End()

	ctx = service.WithWorkflow(ctx, req.Workflow)
	ctx = service.WithProvider(ctx, providerName)
	ctx = service.WithModel(ctx, modelName)

	call := Call{
		Provider:     providerName,
		Model:        modelName,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}

	var state RetryState
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return nil, withAttempts(attempt-1, err)
		}

		comp, err := c.attempt(ctx, call)
		if err == nil {
			metrics.GenerationAttemptsTotal.WithLabelValues(modelName, "success").Inc()
			span.SetAttributes(attribute.Int("llm.attempts", attempt))
			resp := &Response{
				Text:     comp.Text,
				Model:    modelName,
				Provider: providerName,
				Attempts: attempt,
				Usage:    comp.Usage,
			}
			if comp.Model != "" {
				resp.Model = comp.Model
			}
			return resp, nil
		}

		// 调用方取消或截止优先于上游错误
		if ctxErr := ctx.Err(); ctxErr != nil {
			span.RecordError(ctxErr)
			return nil, withAttempts(attempt, ctxErr)
		}

		ue := Classify(err)
		if !ue.Retryable() {
			metrics.GenerationAttemptsTotal.WithLabelValues(modelName, "terminal").Inc()
			span.RecordError(ue)
			span.SetStatus(codes.Error, string(ue.Kind))
			return nil, withAttempts(attempt, ue)
		}
		metrics.GenerationAttemptsTotal.WithLabelValues(modelName, "retryable").Inc()

		state = RetryState{Attempt: attempt, LastError: ue}
		if attempt == c.policy.MaxAttempts {
			c.observe(state)
			break
		}
		state.NextDelay = c.policy.Delay(attempt, c.random)
		c.observe(state)
		metrics.GenerationRetriesTotal.WithLabelValues(string(ue.Kind)).Inc()
		logger.Warn(ctx, "generation attempt failed, retrying",
			"attempt", attempt,
			"kind", string(ue.Kind),
			"status", ue.StatusCode,
			"delay", state.NextDelay.String(),
		)

		if err := c.sleep(ctx, state.NextDelay); err != nil {
			span.RecordError(err)
			return nil, withAttempts(attempt, err)
		}
	}

	exhausted := &ExhaustedRetriesError{Attempts: c.policy.MaxAttempts, Last: state.LastError}
	span.RecordError(exhausted)
	span.SetStatus(codes.Error, "retries exhausted")
	return nil, exhausted
}

func (c *Client) attempt(ctx context.Context, call Call) (*Completion, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}
	comp, err := c.provider.Complete(ctx, call)
	if err != nil {
		return nil, err
	}
	if comp == nil {
		return nil, &UpstreamError{Kind: KindServerError, Err: errors.New("empty completion")}
	}
	return comp, nil
}

func (c *Client) observe(state RetryState) {
	if c.observer != nil {
		c.observer(state)
	}
}

func (c *Client) random() float64 {
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.rnd()
}
