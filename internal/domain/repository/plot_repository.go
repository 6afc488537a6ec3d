// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"plot-rag-api/internal/domain/entity"
)

// PlotFilter 剧情过滤条件
type PlotFilter struct {
	StructureType entity.StructureType
	Source        entity.PlotSource
}

// PlotRepository 剧情结构仓储接口
type PlotRepository interface {
	// Save 保存剧情结构（按 ID upsert）
	Save(ctx context.Context, plot *entity.PlotStructure) error

	// GetByID 根据 ID 获取剧情
	GetByID(ctx context.Context, id string) (*entity.PlotStructure, error)

	// GetLatest 获取项目最新剧情
	GetLatest(ctx context.Context, projectID string) (*entity.PlotStructure, error)

	// ListByProject 获取项目剧情列表
	ListByProject(ctx context.Context, projectID string, filter *PlotFilter, pagination Pagination) (*PagedResult[*entity.PlotStructure], error)

	// DeleteByProject 删除项目全部剧情，返回删除条数
	DeleteByProject(ctx context.Context, projectID string) (int64, error)
}
