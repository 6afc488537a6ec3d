package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plot-rag-api/internal/application/retrieval"
	domain "plot-rag-api/internal/domain/entity"
	"plot-rag-api/pkg/metrics"
)

const backend = "milvus"

// store VectorIndex 依赖的集合操作
type store interface {
	hasPartition(ctx context.Context, partition string) (bool, error)
	createPartition(ctx context.Context, partition string) error
	upsert(ctx context.Context, partition string, dimension int, rows []vectorRow) error
	delete(ctx context.Context, partition, expr string) error
	search(ctx context.Context, partition, expr string, vec []float32, topK int) ([]searchHit, error)
}

var _ store = (*Client)(nil)

// VectorIndex 基于 Milvus 的向量索引，每个项目一个分区
type VectorIndex struct {
	store store

	mu        sync.RWMutex
	dimension int
	// partitions 已确认存在的分区
	partitions sync.Map
}

var _ retrieval.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex 创建 Milvus 向量索引，dimension 需与集合 Schema 一致
func NewVectorIndex(client *Client, dimension int) *VectorIndex {
	var s store
	if client != nil && client.milvus != nil {
		s = client
	}
	return newVectorIndex(s, dimension)
}

func newVectorIndex(s store, dimension int) *VectorIndex {
	if dimension < 0 {
		dimension = 0
	}
	return &VectorIndex{store: s, dimension: dimension}
}

func (v *VectorIndex) Dimension() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dimension
}

// checkDimension 维度未知时以首次写入为准
func (v *VectorIndex) checkDimension(n int, fix bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dimension == 0 {
		if fix {
			v.dimension = n
		}
		return nil
	}
	if n != v.dimension {
		return &retrieval.DimensionMismatchError{Expected: v.dimension, Got: n}
	}
	return nil
}

func (v *VectorIndex) Upsert(ctx context.Context, iv *domain.IndexedVector) error {
	if v == nil || v.store == nil {
		return retrieval.ErrVectorDisabled
	}
	if iv == nil || strings.TrimSpace(iv.EntityID) == "" || strings.TrimSpace(iv.ProjectID) == "" {
		metrics.VectorUpsertTotal.WithLabelValues(backend, "invalid").Inc()
		return retrieval.ErrInvalidVector
	}
	unit, ok := retrieval.Normalize(iv.Vector)
	if !ok {
		metrics.VectorUpsertTotal.WithLabelValues(backend, "invalid").Inc()
		return retrieval.ErrZeroVector
	}
	if err := v.checkDimension(len(iv.Vector), true); err != nil {
		metrics.VectorUpsertTotal.WithLabelValues(backend, "dimension_mismatch").Inc()
		return err
	}

	partition := PartitionName(iv.ProjectID)
	ctx, span := tracer.Start(ctx, "milvus.VectorIndex.Upsert", trace.WithAttributes(
		attribute.String("project_id", iv.ProjectID),
		attribute.String("entity_id", iv.EntityID),
		attribute.String("partition", partition),
	))
	defer span.End()

	if err := v.ensurePartition(ctx, partition); err != nil {
		span.RecordError(err)
		metrics.VectorUpsertTotal.WithLabelValues(backend, "error").Inc()
		return err
	}

	attrs, err := json.Marshal(iv.Metadata.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	row := vectorRow{
		EntityID:   iv.EntityID,
		ProjectID:  iv.ProjectID,
		EntityType: string(iv.EntityType),
		Title:      truncateBytes(iv.Metadata.Title, maxTitleLength),
		Text:       truncateBytes(iv.Metadata.Text, maxTextLength),
		UpdatedAt:  iv.Metadata.UpdatedAt.UnixMilli(),
		Attributes: attrs,
		Vector:     unit,
	}
	if iv.Metadata.UpdatedAt.IsZero() {
		row.UpdatedAt = 0
	}
	if err := v.store.upsert(ctx, partition, len(unit), []vectorRow{row}); err != nil {
		span.RecordError(err)
		metrics.VectorUpsertTotal.WithLabelValues(backend, "error").Inc()
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	metrics.VectorUpsertTotal.WithLabelValues(backend, "success").Inc()
	return nil
}

func (v *VectorIndex) Query(ctx context.Context, params retrieval.QueryParams) ([]domain.RetrievalResult, error) {
	if v == nil || v.store == nil {
		return nil, retrieval.ErrVectorDisabled
	}
	start := time.Now()
	defer func() {
		metrics.VectorQueryDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	}()

	if err := v.checkDimension(len(params.Vector), false); err != nil {
		metrics.VectorQueryTotal.WithLabelValues(backend, "dimension_mismatch").Inc()
		return nil, err
	}
	unit, ok := retrieval.Normalize(params.Vector)
	if !ok {
		metrics.VectorQueryTotal.WithLabelValues(backend, "empty").Inc()
		return []domain.RetrievalResult{}, nil
	}

	partition := PartitionName(params.ProjectID)
	ctx, span := tracer.Start(ctx, "milvus.VectorIndex.Query", trace.WithAttributes(
		attribute.String("project_id", params.ProjectID),
		attribute.String("entity_type", string(params.EntityType)),
		attribute.Int("top_k", params.K),
	))
	defer span.End()

	// 新项目尚无分区，视为空索引
	has, err := v.partitionExists(ctx, partition)
	if err != nil {
		span.RecordError(err)
		metrics.VectorQueryTotal.WithLabelValues(backend, "error").Inc()
		return nil, fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		metrics.VectorQueryTotal.WithLabelValues(backend, "empty").Inc()
		return []domain.RetrievalResult{}, nil
	}

	k := params.K
	if k <= 0 {
		k = 20
	}
	hits, err := v.store.search(ctx, partition, queryExpr(params.ProjectID, params.EntityType), unit, k)
	if err != nil {
		span.RecordError(err)
		metrics.VectorQueryTotal.WithLabelValues(backend, "error").Inc()
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	candidates := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, hitToResult(h))
	}
	out := retrieval.RankResults(candidates, params.Threshold(), k)
	span.SetAttributes(attribute.Int("result_count", len(out)))
	metrics.VectorQueryTotal.WithLabelValues(backend, "success").Inc()
	return out, nil
}

func (v *VectorIndex) Delete(ctx context.Context, projectID, entityID string) error {
	if v == nil || v.store == nil {
		return retrieval.ErrVectorDisabled
	}
	ctx, span := tracer.Start(ctx, "milvus.VectorIndex.Delete", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("entity_id", entityID),
	))
	defer span.End()

	partition := PartitionName(projectID)
	has, err := v.partitionExists(ctx, partition)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return nil
	}
	if err := v.store.delete(ctx, partition, FieldEntityID+" == "+quote(entityID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

func (v *VectorIndex) DeleteProject(ctx context.Context, projectID string) error {
	if v == nil || v.store == nil {
		return retrieval.ErrVectorDisabled
	}
	ctx, span := tracer.Start(ctx, "milvus.VectorIndex.DeleteProject", trace.WithAttributes(
		attribute.String("project_id", projectID),
	))
	defer span.End()

	partition := PartitionName(projectID)
	has, err := v.partitionExists(ctx, partition)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if !has {
		return nil
	}
	if err := v.store.delete(ctx, partition, FieldProjectID+" == "+quote(projectID)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete project vectors: %w", err)
	}
	return nil
}

func (v *VectorIndex) partitionExists(ctx context.Context, partition string) (bool, error) {
	if _, ok := v.partitions.Load(partition); ok {
		return true, nil
	}
	has, err := v.store.hasPartition(ctx, partition)
	if err != nil {
		return false, err
	}
	if has {
		v.partitions.Store(partition, struct{}{})
	}
	return has, nil
}

func (v *VectorIndex) ensurePartition(ctx context.Context, partition string) error {
	has, err := v.partitionExists(ctx, partition)
	if err != nil {
		return fmt.Errorf("failed to check partition: %w", err)
	}
	if has {
		return nil
	}
	if err := v.store.createPartition(ctx, partition); err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}
	v.partitions.Store(partition, struct{}{})
	return nil
}

func queryExpr(projectID string, entityType domain.EntityType) string {
	expr := FieldProjectID + " == " + quote(projectID)
	if entityType != "" {
		expr += " && " + FieldEntityType + " == " + quote(string(entityType))
	}
	return expr
}

func quote(s string) string {
	return strconv.Quote(s)
}

func hitToResult(h searchHit) domain.RetrievalResult {
	res := domain.RetrievalResult{
		EntityID:   h.EntityID,
		EntityType: domain.EntityType(h.EntityType),
		Similarity: retrieval.ClampSimilarity(float64(h.Score)),
		Payload: domain.VectorMetadata{
			Title: h.Title,
			Text:  h.Text,
		},
	}
	if h.UpdatedAt > 0 {
		res.Payload.UpdatedAt = time.UnixMilli(h.UpdatedAt).UTC()
	}
	if len(h.Attributes) > 0 && string(h.Attributes) != "null" {
		var attrs map[string]string
		if err := json.Unmarshal(h.Attributes, &attrs); err == nil && len(attrs) > 0 {
			res.Payload.Attributes = attrs
		}
	}
	return res
}

// truncateBytes 按字节上限截断且不破坏 UTF-8 字符
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
