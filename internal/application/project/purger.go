// Package project 负责项目级别的状态清理
package project

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/repository"
	"plot-rag-api/pkg/logger"
)

var tracer = otel.Tracer("project")

// ErrProjectRequired 缺少项目 ID
var ErrProjectRequired = errors.New("project id is required")

// VectorRemover 同步删除项目向量
type VectorRemover interface {
	RemoveProject(ctx context.Context, projectID string) error
}

// PurgePublisher 异步投递项目清理消息
type PurgePublisher interface {
	PublishProjectPurge(ctx context.Context, projectID string) (string, error)
}

// PurgeResult 清理结果
type PurgeResult struct {
	ProjectID       string
	PlotsDeleted    int64
	AnalysesDeleted int
	VectorsDeleted  bool
	VectorsQueued   bool
}

// Purger 清理项目在本服务中的全部状态：剧情、分析缓存、向量
type Purger struct {
	tx        repository.Transactor
	plots     repository.PlotRepository
	cache     analysis.Cache
	vectors   VectorRemover
	publisher PurgePublisher
}

// NewPurger 创建清理器，各依赖均可为 nil
func NewPurger(tx repository.Transactor, plots repository.PlotRepository, cache analysis.Cache, vectors VectorRemover, publisher PurgePublisher) *Purger {
	return &Purger{
		tx:        tx,
		plots:     plots,
		cache:     cache,
		vectors:   vectors,
		publisher: publisher,
	}
}

// Purge 清理项目。async 为 true 且配置了消息投递时，向量删除交由索引 worker 执行。
func (p *Purger) Purge(ctx context.Context, projectID string, async bool) (*PurgeResult, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, ErrProjectRequired
	}
	ctx = logger.WithContext(ctx, logger.ProjectIDKey, projectID)
	ctx, span := tracer.Start(ctx, "project.Purger.Purge", trace.WithAttributes(
		attribute.String("project.id", projectID),
		attribute.Bool("async", async),
	))
	defer span.End()

	res := &PurgeResult{ProjectID: projectID}

	if p.plots != nil {
		err := p.withTx(ctx, func(txCtx context.Context) error {
			n, err := p.plots.DeleteByProject(txCtx, projectID)
			res.PlotsDeleted = n
			return err
		})
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("delete plots: %w", err)
		}
	}

	if p.cache != nil {
		n, err := p.cache.DeleteProject(ctx, projectID)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("delete cached analyses: %w", err)
		}
		res.AnalysesDeleted = n
	}

	if err := p.purgeVectors(ctx, projectID, async, res); err != nil {
		span.RecordError(err)
		return nil, err
	}

	logger.Info(ctx, "project purged",
		"plots_deleted", res.PlotsDeleted,
		"analyses_deleted", res.AnalysesDeleted,
		"vectors_deleted", res.VectorsDeleted,
		"vectors_queued", res.VectorsQueued,
	)
	return res, nil
}

func (p *Purger) purgeVectors(ctx context.Context, projectID string, async bool, res *PurgeResult) error {
	if async && p.publisher != nil {
		if _, err := p.publisher.PublishProjectPurge(ctx, projectID); err != nil {
			return fmt.Errorf("queue vector purge: %w", err)
		}
		res.VectorsQueued = true
		return nil
	}
	if p.vectors == nil {
		return nil
	}
	err := p.vectors.RemoveProject(ctx, projectID)
	switch {
	case errors.Is(err, retrieval.ErrVectorDisabled):
		return nil
	case err != nil:
		return fmt.Errorf("delete vectors: %w", err)
	}
	res.VectorsDeleted = true
	return nil
}

func (p *Purger) withTx(ctx context.Context, fn func(context.Context) error) error {
	if p.tx == nil {
		return fn(ctx)
	}
	return p.tx.WithTransaction(ctx, fn)
}
