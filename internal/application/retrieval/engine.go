package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	"plot-rag-api/internal/domain/entity"
)

const (
	defaultTopK = 20
	maxTopK     = 100
)

// Query 检索请求
type Query struct {
	ProjectID string
	Text      string
	// EntityType 为空表示不过滤
	EntityType entity.EntityType
	K          int
}

// Engine 查询文本向量化后在索引中检索
type Engine struct {
	embedder embedding.Embedder
	index    VectorIndex

	topK          int
	minSimilarity float64
}

// NewEngine 创建检索引擎
func NewEngine(embedder embedding.Embedder, index VectorIndex, topK int, minSimilarity float64) *Engine {
	if topK <= 0 {
		topK = defaultTopK
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &Engine{
		embedder:      embedder,
		index:         index,
		topK:          topK,
		minSimilarity: minSimilarity,
	}
}

func (e *Engine) Enabled() bool {
	return e != nil && e.embedder != nil && e.index != nil
}

// Retrieve 返回与查询文本最相关的实体
func (e *Engine) Retrieve(ctx context.Context, q Query) ([]entity.RetrievalResult, error) {
	if !e.Enabled() {
		return nil, ErrVectorDisabled
	}
	q.ProjectID = strings.TrimSpace(q.ProjectID)
	q.Text = strings.TrimSpace(q.Text)
	if q.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	if q.Text == "" {
		return nil, fmt.Errorf("query is required")
	}
	k := q.K
	if k <= 0 {
		k = e.topK
	}
	if k > maxTopK {
		k = maxTopK
	}

	vec, err := e.embedQuery(ctx, q.Text)
	if err != nil {
		return nil, err
	}
	return e.RetrieveByVector(ctx, q.ProjectID, vec, q.EntityType, k)
}

// RetrieveByVector 使用已有向量检索
func (e *Engine) RetrieveByVector(ctx context.Context, projectID string, vec []float32, entityType entity.EntityType, k int) ([]entity.RetrievalResult, error) {
	if e == nil || e.index == nil {
		return nil, ErrVectorDisabled
	}
	if k <= 0 {
		k = e.topK
	}
	return e.index.Query(ctx, QueryParams{
		ProjectID:     projectID,
		Vector:        vec,
		EntityType:    entityType,
		K:             k,
		MinSimilarity: e.minSimilarity,
	})
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if e == nil || e.embedder == nil {
		return nil, ErrVectorDisabled
	}
	v64, err := e.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(v64) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return toFloat32(v64[0]), nil
}

func toFloat32(vec []float64) []float32 {
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(x)
	}
	return out
}
