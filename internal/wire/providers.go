package wire

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	einoembedding "github.com/cloudwego/eino/components/embedding"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/application/generation"
	"plot-rag-api/internal/application/plot"
	"plot-rag-api/internal/application/project"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/config"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/domain/repository"
	infraembedding "plot-rag-api/internal/infrastructure/embedding"
	"plot-rag-api/internal/infrastructure/llm"
	"plot-rag-api/internal/infrastructure/messaging"
	"plot-rag-api/internal/infrastructure/persistence/milvus"
	"plot-rag-api/internal/infrastructure/persistence/postgres"
	"plot-rag-api/internal/infrastructure/persistence/redis"
	"plot-rag-api/internal/interfaces/http/handler"
	"plot-rag-api/internal/interfaces/http/middleware"
	"plot-rag-api/internal/interfaces/http/router"
	"plot-rag-api/internal/interfaces/worker"
	"plot-rag-api/pkg/logger"
)

// App HTTP 服务依赖
type App struct {
	Router  *router.Router
	Sweeper *analysis.Sweeper
}

// Worker 索引 worker 依赖
type Worker struct {
	Consumer *messaging.Consumer
	Indexer  *retrieval.Indexer
}

// Bootstrap 初始化任务依赖
type Bootstrap struct {
	PgClient     *postgres.Client
	MilvusClient *milvus.Client
}

// ProvidePostgresClient 提供 PostgreSQL 客户端，未启用时返回 nil
func ProvidePostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	if !cfg.Database.Postgres.Enabled {
		return nil, func() {}, nil
	}
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideRequiredPostgresClient bootstrap 必须连接 PostgreSQL
func ProvideRequiredPostgresClient(cfg *config.Config) (*postgres.Client, func(), error) {
	client, err := postgres.NewClient(&cfg.Database.Postgres)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvidePlotRepository PostgreSQL 未启用时剧情不落库
func ProvidePlotRepository(client *postgres.Client) repository.PlotRepository {
	if client == nil {
		return nil
	}
	return postgres.NewPlotRepository(client)
}

// ProvideTransactor 提供事务管理器
func ProvideTransactor(client *postgres.Client) repository.Transactor {
	if client == nil {
		return nil
	}
	return postgres.NewTxManager(client)
}

// ProvideRedisClient 提供 Redis 客户端，未启用时返回 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideRateLimiter 没有 Redis 时不限流
func ProvideRateLimiter(client *redis.Client) middleware.RateLimiter {
	if client == nil {
		return nil
	}
	return redis.NewRateLimiter(client)
}

// ProvideMessagingProducer 提供索引流生产者
func ProvideMessagingProducer(client *redis.Client, cfg *config.Config) *messaging.Producer {
	if client == nil {
		return nil
	}
	return messaging.NewProducer(client.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideIndexPublisher 异步索引端口
func ProvideIndexPublisher(p *messaging.Producer) handler.IndexPublisher {
	if p == nil {
		return nil
	}
	return p
}

// ProvidePurgePublisher 异步清理端口
func ProvidePurgePublisher(p *messaging.Producer) project.PurgePublisher {
	if p == nil {
		return nil
	}
	return p
}

// ProvideAnalysisCache backend 为 redis 且 Redis 可用时使用 Redis，否则使用进程内缓存
func ProvideAnalysisCache(ctx context.Context, cfg *config.Config, client *redis.Client) analysis.Cache {
	backend := strings.ToLower(strings.TrimSpace(cfg.Analysis.Backend))
	if backend == "redis" {
		if client != nil {
			return redis.NewAnalysisCache(client, cfg.Analysis.KeyPrefix, time.Now)
		}
		logger.Warn(ctx, "redis not enabled, analysis cache falls back to memory")
	}
	return analysis.NewMemoryCache(time.Now)
}

// ProvideSweeper 提供过期缓存清理器
func ProvideSweeper(cfg *config.Config, cache analysis.Cache) *analysis.Sweeper {
	return analysis.NewSweeper(cache, cfg.Analysis.SweepInterval)
}

// ProvideMilvusClientOptional Milvus 不可达时不阻塞启动
func ProvideMilvusClientOptional(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	if !strings.EqualFold(cfg.Retrieval.Backend, "milvus") {
		return nil, func() {}, nil
	}
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		logger.Warn(ctx, "milvus not available, vector features disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideMilvusClient bootstrap 必须连接 Milvus
func ProvideMilvusClient(ctx context.Context, cfg *config.Config) (*milvus.Client, func(), error) {
	client, err := milvus.NewClient(ctx, &cfg.Vector.Milvus)
	if err != nil {
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideVectorIndex 按 retrieval.backend 选择向量索引，Milvus 不可用时返回 nil
func ProvideVectorIndex(cfg *config.Config, client *milvus.Client) retrieval.VectorIndex {
	dim := cfg.EffectiveDimension()
	if strings.EqualFold(cfg.Retrieval.Backend, "milvus") {
		if client == nil {
			return nil
		}
		return milvus.NewVectorIndex(client, dim)
	}
	return retrieval.NewMemoryIndex(dim)
}

// ProvideEmbedderOptional Embedder 不可用时禁用向量检索与索引
func ProvideEmbedderOptional(ctx context.Context, cfg *config.Config) einoembedding.Embedder {
	embedder, err := infraembedding.NewEmbedder(ctx, &cfg.Embedding)
	if err != nil {
		logger.Warn(ctx, "embedding not available, vector features disabled", "error", err.Error())
		return nil
	}
	return embedder
}

// ProvideRetrievalEngine 提供检索引擎
func ProvideRetrievalEngine(cfg *config.Config, embedder einoembedding.Embedder, index retrieval.VectorIndex) *retrieval.Engine {
	return retrieval.NewEngine(embedder, index, cfg.Retrieval.TopK, cfg.Retrieval.MinSimilarity)
}

// ProvideRetrievalIndexer 提供索引器
func ProvideRetrievalIndexer(cfg *config.Config, embedder einoembedding.Embedder, index retrieval.VectorIndex) *retrieval.Indexer {
	return retrieval.NewIndexer(embedder, index, cfg.Embedding.BatchSize, cfg.Retrieval.ChunkMaxRunes)
}

// ProvideGenerationClient 组装 Eino 模型、重试与模型选择
func ProvideGenerationClient(cfg *config.Config) *generation.Client {
	provider := llm.NewEinoProvider(llm.NewEinoFactory(&cfg.LLM))
	selector := generation.ModelSelector{
		FastModel:     cfg.LLM.ModelSelection.FastModel,
		AdvancedModel: cfg.LLM.ModelSelection.AdvancedModel,
		Threshold:     cfg.LLM.ModelSelection.Threshold,
	}
	policy := generation.RetryPolicy{
		MaxAttempts: cfg.LLM.Retry.MaxAttempts,
		BaseDelay:   cfg.LLM.Retry.BaseDelay,
		MaxDelay:    cfg.LLM.Retry.MaxDelay,
		Jitter:      cfg.LLM.Retry.Jitter,
	}
	return generation.NewClient(provider, selector, policy,
		generation.WithAttemptTimeout(cfg.LLM.AttemptTimeout),
		generation.WithDefaultProvider(cfg.LLM.DefaultProvider),
	)
}

// ProvidePlotPipeline 提供剧情流水线
func ProvidePlotPipeline(cfg *config.Config, engine *retrieval.Engine, gen *generation.Client, plots repository.PlotRepository, cache analysis.Cache) *plot.Pipeline {
	return plot.NewPipeline(engine, retrieval.NewAssembler(cfg.Retrieval.MaxPerType), gen, plots, cache, plot.Config{
		CharBudget:          cfg.Retrieval.CharBudget,
		GenerationDeadline:  cfg.Plot.GenerationDeadline,
		DefaultStructure:    entity.StructureType(cfg.Plot.DefaultStructure),
		DefaultTargetLength: cfg.Plot.DefaultTargetLength,
		Temperature:         cfg.Plot.Temperature,
		MaxTokens:           cfg.Plot.MaxTokens,
		Persist:             cfg.Plot.Persist,
		SuggestionTTL:       cfg.Analysis.DefaultTTL,
		FallbackTTL:         cfg.Analysis.FallbackTTL,
	})
}

// ProvidePurger 提供项目清理器
func ProvidePurger(tx repository.Transactor, plots repository.PlotRepository, cache analysis.Cache, indexer *retrieval.Indexer, publisher project.PurgePublisher) *project.Purger {
	return project.NewPurger(tx, plots, cache, indexer, publisher)
}

// ProvideHealthHandler Postgres 与 Redis 启用时为必需依赖，Milvus 可选
func ProvideHealthHandler(cfg *config.Config, pg *postgres.Client, rdb *redis.Client, mv *milvus.Client) *handler.HealthHandler {
	deps := []handler.Dependency{
		{Name: "postgres", Required: cfg.Database.Postgres.Enabled},
		{Name: "redis", Required: cfg.Cache.Redis.Enabled},
		{Name: "milvus"},
	}
	if pg != nil {
		deps[0].Checker = pg
	}
	if rdb != nil {
		deps[1].Checker = rdb
	}
	if mv != nil {
		deps[2].Checker = mv
	}
	return handler.NewHealthHandler(cfg.App.Version, deps...)
}

// ProvideVectorHandler 提供向量处理器
func ProvideVectorHandler(indexer *retrieval.Indexer, publisher handler.IndexPublisher) *handler.VectorHandler {
	return handler.NewVectorHandler(indexer, publisher)
}

// ProvidePlotHandler 提供剧情处理器
func ProvidePlotHandler(pipeline *plot.Pipeline, plots repository.PlotRepository) *handler.PlotHandler {
	return handler.NewPlotHandler(pipeline, plots)
}

// ProvideHandlers 汇总路由处理器
func ProvideHandlers(
	health *handler.HealthHandler,
	plots *handler.PlotHandler,
	vectors *handler.VectorHandler,
	purger *project.Purger,
	cache analysis.Cache,
) router.Handlers {
	return router.Handlers{
		Health:   health,
		Plot:     plots,
		Analysis: handler.NewAnalysisHandler(cache),
		Vector:   vectors,
		Project:  handler.NewProjectHandler(purger),
	}
}

// ProvideRouter 提供 HTTP 路由器
func ProvideRouter(cfg *config.Config, handlers router.Handlers, limiter middleware.RateLimiter) *router.Router {
	return router.New(cfg, handlers, limiter)
}

// ProvideConsumer 索引 worker 依赖 Redis Stream
func ProvideConsumer(cfg *config.Config, client *redis.Client) (*messaging.Consumer, error) {
	if client == nil {
		return nil, fmt.Errorf("index worker requires redis: set cache.redis.enabled")
	}
	rs := cfg.Messaging.RedisStream
	return messaging.NewConsumer(client.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamPlotIndex,
		Group:         consumerGroup(rs.ConsumerGroupPrefix),
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	}), nil
}

// ProvideWorker 注册索引处理器
func ProvideWorker(consumer *messaging.Consumer, indexer *retrieval.Indexer) *Worker {
	worker.RegisterIndexHandlers(consumer, indexer)
	return &Worker{Consumer: consumer, Indexer: indexer}
}

func consumerGroup(prefix string) messaging.ConsumerGroup {
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		return messaging.ConsumerGroupIndexer
	}
	return messaging.ConsumerGroup(prefix + ":" + string(messaging.ConsumerGroupIndexer))
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
