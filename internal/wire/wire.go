//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"plot-rag-api/internal/config"
)

// DataSet 数据层依赖
var DataSet = wire.NewSet(
	ProvidePostgresClient,
	ProvidePlotRepository,
	ProvideTransactor,
	ProvideRedisClient,
	ProvideRateLimiter,
	ProvideMessagingProducer,
	ProvideIndexPublisher,
	ProvidePurgePublisher,
	ProvideAnalysisCache,
)

// RetrievalSet 向量检索依赖
var RetrievalSet = wire.NewSet(
	ProvideMilvusClientOptional,
	ProvideVectorIndex,
	ProvideEmbedderOptional,
	ProvideRetrievalEngine,
	ProvideRetrievalIndexer,
)

// ServiceSet 应用服务
var ServiceSet = wire.NewSet(
	ProvideGenerationClient,
	ProvidePlotPipeline,
	ProvidePurger,
	ProvideSweeper,
)

// HTTPSet HTTP 层
var HTTPSet = wire.NewSet(
	ProvideHealthHandler,
	ProvidePlotHandler,
	ProvideVectorHandler,
	ProvideHandlers,
	ProvideRouter,
)

// InitializeApp 初始化 HTTP 服务
func InitializeApp(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	wire.Build(
		DataSet,
		RetrievalSet,
		ServiceSet,
		HTTPSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化索引 worker
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		ProvideRedisClient,
		RetrievalSet,
		ProvideConsumer,
		ProvideWorker,
	)
	return nil, nil, nil
}

// InitializeBootstrap 初始化建表与建集合任务
func InitializeBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, func(), error) {
	wire.Build(
		ProvideRequiredPostgresClient,
		ProvideMilvusClient,
		wire.Struct(new(Bootstrap), "*"),
	)
	return nil, nil, nil
}
