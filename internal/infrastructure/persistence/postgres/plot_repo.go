package postgres

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/domain/repository"
)

// PlotRepository 剧情结构仓储实现
type PlotRepository struct {
	client *Client
}

var _ repository.PlotRepository = (*PlotRepository)(nil)

// NewPlotRepository 创建剧情仓储
func NewPlotRepository(client *Client) *PlotRepository {
	return &PlotRepository{client: client}
}

// Save 按 ID upsert
func (r *PlotRepository) Save(ctx context.Context, plot *entity.PlotStructure) error {
	ctx, span := tracer.Start(ctx, "postgres.PlotRepository.Save", trace.WithAttributes(
		attribute.String("project_id", plot.ProjectID),
	))
	defer span.End()

	db := getDB(ctx, r.client.db)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(plot).Error
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

// GetByID 根据 ID 获取剧情
func (r *PlotRepository) GetByID(ctx context.Context, id string) (*entity.PlotStructure, error) {
	ctx, span := tracer.Start(ctx, "postgres.PlotRepository.GetByID")
	defer span.End()

	db := getDB(ctx, r.client.db)
	var plot entity.PlotStructure
	if err := db.First(&plot, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get plot: %w", err)
	}
	return &plot, nil
}

// GetLatest 获取项目最新剧情
func (r *PlotRepository) GetLatest(ctx context.Context, projectID string) (*entity.PlotStructure, error) {
	ctx, span := tracer.Start(ctx, "postgres.PlotRepository.GetLatest", trace.WithAttributes(
		attribute.String("project_id", projectID),
	))
	defer span.End()

	db := getDB(ctx, r.client.db)
	var plot entity.PlotStructure
	err := db.Where("project_id = ?", projectID).
		Order("created_at DESC").
		Order("id DESC").
		Take(&plot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get latest plot: %w", err)
	}
	return &plot, nil
}

// ListByProject 获取项目剧情列表
func (r *PlotRepository) ListByProject(ctx context.Context, projectID string, filter *repository.PlotFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.PlotStructure], error) {
	ctx, span := tracer.Start(ctx, "postgres.PlotRepository.ListByProject")
	defer span.End()

	db := getDB(ctx, r.client.db)
	query := db.Model(&entity.PlotStructure{}).Where("project_id = ?", projectID)
	if filter != nil {
		if filter.StructureType != "" {
			query = query.Where("structure_type = ?", filter.StructureType)
		}
		if filter.Source != "" {
			query = query.Where("source = ?", filter.Source)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to count plots: %w", err)
	}

	var plots []*entity.PlotStructure
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&plots).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list plots: %w", err)
	}

	return repository.NewPagedResult(plots, total, pagination), nil
}

// DeleteByProject 删除项目全部剧情
func (r *PlotRepository) DeleteByProject(ctx context.Context, projectID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "postgres.PlotRepository.DeleteByProject", trace.WithAttributes(
		attribute.String("project_id", projectID),
	))
	defer span.End()

	db := getDB(ctx, r.client.db)
	res := db.Where("project_id = ?", projectID).Delete(&entity.PlotStructure{})
	if res.Error != nil {
		span.RecordError(res.Error)
		return 0, fmt.Errorf("failed to delete plots: %w", res.Error)
	}
	return res.RowsAffected, nil
}
