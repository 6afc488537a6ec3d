package retrieval

import (
	"context"

	"plot-rag-api/internal/domain/entity"
)

// DefaultMinSimilarity 默认相似度阈值
const DefaultMinSimilarity = 0.6

// VectorIndex 定义应用层对“向量存储/检索”的最小依赖（port）。
// 内存实现用于单机与测试，Milvus 实现由基础设施层提供。
type VectorIndex interface {
	// Upsert 按 EntityID 原地替换，单实体原子，后写者胜
	Upsert(ctx context.Context, v *entity.IndexedVector) error
	// Query 返回相似度降序的结果，空索引返回空切片
	Query(ctx context.Context, params QueryParams) ([]entity.RetrievalResult, error)
	// Delete 删除单个实体向量
	Delete(ctx context.Context, projectID, entityID string) error
	// DeleteProject 删除项目下全部向量
	DeleteProject(ctx context.Context, projectID string) error
	// Dimension 返回索引维度，0 表示尚未确定
	Dimension() int
}

// QueryParams 向量查询参数
type QueryParams struct {
	ProjectID string
	Vector    []float32
	// EntityType 为空表示不过滤
	EntityType entity.EntityType
	K          int
	// MinSimilarity 为 0 时使用 DefaultMinSimilarity
	MinSimilarity float64
}

// Threshold 返回生效的相似度阈值
func (p QueryParams) Threshold() float64 {
	if p.MinSimilarity <= 0 {
		return DefaultMinSimilarity
	}
	return p.MinSimilarity
}
