package retrieval

import (
	"context"
	"strings"
	"sync"
	"time"

	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/pkg/metrics"
)

const memoryBackend = "memory"

type memoryRecord struct {
	projectID  string
	entityType entity.EntityType
	unit       []float32
	meta       entity.VectorMetadata
}

// MemoryIndex 进程内向量索引
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]*memoryRecord
}

var _ VectorIndex = (*MemoryIndex)(nil)

// NewMemoryIndex 创建内存索引，dimension 为 0 时由首次写入决定
func NewMemoryIndex(dimension int) *MemoryIndex {
	if dimension < 0 {
		dimension = 0
	}
	return &MemoryIndex{
		dimension: dimension,
		records:   make(map[string]*memoryRecord),
	}
}

// Dimension 返回索引维度
func (m *MemoryIndex) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimension
}

// Len 返回已索引实体数
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Upsert 写入或替换实体向量
func (m *MemoryIndex) Upsert(_ context.Context, v *entity.IndexedVector) error {
	if v == nil || strings.TrimSpace(v.EntityID) == "" || strings.TrimSpace(v.ProjectID) == "" {
		metrics.VectorUpsertTotal.WithLabelValues(memoryBackend, "invalid").Inc()
		return ErrInvalidVector
	}
	unit, ok := Normalize(v.Vector)
	if !ok {
		metrics.VectorUpsertTotal.WithLabelValues(memoryBackend, "invalid").Inc()
		return ErrZeroVector
	}

	rec := &memoryRecord{
		projectID:  v.ProjectID,
		entityType: v.EntityType,
		unit:       unit,
		meta:       cloneMetadata(v.Metadata),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == 0 {
		m.dimension = len(v.Vector)
	}
	if len(v.Vector) != m.dimension {
		metrics.VectorUpsertTotal.WithLabelValues(memoryBackend, "dimension_mismatch").Inc()
		return &DimensionMismatchError{Expected: m.dimension, Got: len(v.Vector)}
	}
	m.records[v.EntityID] = rec
	metrics.VectorUpsertTotal.WithLabelValues(memoryBackend, "success").Inc()
	return nil
}

// Query 按余弦相似度检索项目内向量
func (m *MemoryIndex) Query(_ context.Context, params QueryParams) ([]entity.RetrievalResult, error) {
	start := time.Now()
	defer func() {
		metrics.VectorQueryDuration.WithLabelValues(memoryBackend).Observe(time.Since(start).Seconds())
	}()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension > 0 && len(params.Vector) != m.dimension {
		metrics.VectorQueryTotal.WithLabelValues(memoryBackend, "dimension_mismatch").Inc()
		return nil, &DimensionMismatchError{Expected: m.dimension, Got: len(params.Vector)}
	}
	if len(m.records) == 0 {
		metrics.VectorQueryTotal.WithLabelValues(memoryBackend, "empty").Inc()
		return []entity.RetrievalResult{}, nil
	}

	unit, ok := Normalize(params.Vector)
	if !ok {
		metrics.VectorQueryTotal.WithLabelValues(memoryBackend, "empty").Inc()
		return []entity.RetrievalResult{}, nil
	}

	candidates := make([]entity.RetrievalResult, 0, 32)
	for id, rec := range m.records {
		if rec.projectID != params.ProjectID {
			continue
		}
		if params.EntityType != "" && rec.entityType != params.EntityType {
			continue
		}
		candidates = append(candidates, entity.RetrievalResult{
			EntityID:   id,
			EntityType: rec.entityType,
			Similarity: ClampSimilarity(Dot(unit, rec.unit)),
			Payload:    cloneMetadata(rec.meta),
		})
	}

	metrics.VectorQueryTotal.WithLabelValues(memoryBackend, "success").Inc()
	return RankResults(candidates, params.Threshold(), params.K), nil
}

// Delete 删除实体向量，不存在时忽略
func (m *MemoryIndex) Delete(_ context.Context, projectID, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[entityID]; ok && rec.projectID == projectID {
		delete(m.records, entityID)
	}
	return nil
}

// DeleteProject 删除项目下全部向量
func (m *MemoryIndex) DeleteProject(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.projectID == projectID {
			delete(m.records, id)
		}
	}
	return nil
}

func cloneMetadata(meta entity.VectorMetadata) entity.VectorMetadata {
	if meta.Attributes == nil {
		return meta
	}
	attrs := make(map[string]string, len(meta.Attributes))
	for k, v := range meta.Attributes {
		attrs[k] = v
	}
	meta.Attributes = attrs
	return meta
}
