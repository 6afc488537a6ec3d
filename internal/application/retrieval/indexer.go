package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/sync/errgroup"

	"plot-rag-api/internal/domain/entity"
)

const (
	defaultChunkSizeRunes    = 800
	defaultChunkOverlapRunes = 80
	defaultEmbeddingBatch    = 32
	defaultPayloadRunes      = 2000
	embedConcurrency         = 4
)

// Indexer 将实体文本向量化后写入索引。
// 长文本按字符切片分别向量化后取均值，保证每个实体只有一条向量。
type Indexer struct {
	embedder embedding.Embedder
	index    VectorIndex

	embeddingBatchSize int
	chunkSizeRunes     int
	chunkOverlapRunes  int
	payloadRunes       int

	now func() time.Time
}

// NewIndexer 创建索引器
func NewIndexer(embedder embedding.Embedder, index VectorIndex, embeddingBatchSize, payloadRunes int) *Indexer {
	bs := embeddingBatchSize
	if bs <= 0 {
		bs = defaultEmbeddingBatch
	}
	if payloadRunes <= 0 {
		payloadRunes = defaultPayloadRunes
	}
	return &Indexer{
		embedder:           embedder,
		index:              index,
		embeddingBatchSize: bs,
		chunkSizeRunes:     defaultChunkSizeRunes,
		chunkOverlapRunes:  defaultChunkOverlapRunes,
		payloadRunes:       payloadRunes,
		now:                time.Now,
	}
}

func (i *Indexer) Enabled() bool {
	return i != nil && i.embedder != nil && i.index != nil
}

// IndexEntity 索引单个实体
func (i *Indexer) IndexEntity(ctx context.Context, doc *entity.IndexDocument) error {
	return i.IndexBatch(ctx, []*entity.IndexDocument{doc})
}

// IndexBatch 批量索引，所有文本切片合并后分批向量化
func (i *Indexer) IndexBatch(ctx context.Context, docs []*entity.IndexDocument) error {
	if !i.Enabled() {
		return ErrVectorDisabled
	}
	if len(docs) == 0 {
		return nil
	}

	type span struct{ start, end int }
	spans := make([]span, 0, len(docs))
	inputs := make([]string, 0, len(docs))
	for _, doc := range docs {
		if err := validateDocument(doc); err != nil {
			return err
		}
		chunks := splitByRunes(embedText(doc), i.chunkSizeRunes, i.chunkOverlapRunes)
		if len(chunks) == 0 {
			return fmt.Errorf("entity %s has no indexable text", doc.EntityID)
		}
		spans = append(spans, span{start: len(inputs), end: len(inputs) + len(chunks)})
		inputs = append(inputs, chunks...)
	}

	vectors, err := i.embedBatch(ctx, inputs)
	if err != nil {
		return err
	}

	for idx, doc := range docs {
		s := spans[idx]
		vec := meanVector(vectors[s.start:s.end])
		updatedAt := doc.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = i.now()
		}
		v := &entity.IndexedVector{
			EntityID:   doc.EntityID,
			ProjectID:  doc.ProjectID,
			EntityType: doc.EntityType,
			Vector:     vec,
			Metadata: entity.VectorMetadata{
				Title:      strings.TrimSpace(doc.Title),
				Text:       truncateRunes(strings.TrimSpace(doc.Text), i.payloadRunes),
				UpdatedAt:  updatedAt,
				Attributes: doc.Attributes,
			},
		}
		if err := i.index.Upsert(ctx, v); err != nil {
			return fmt.Errorf("upsert %s: %w", doc.EntityID, err)
		}
	}
	return nil
}

// RemoveEntity 删除实体向量
func (i *Indexer) RemoveEntity(ctx context.Context, projectID, entityID string) error {
	if i == nil || i.index == nil {
		return ErrVectorDisabled
	}
	return i.index.Delete(ctx, projectID, entityID)
}

// RemoveProject 删除项目全部向量
func (i *Indexer) RemoveProject(ctx context.Context, projectID string) error {
	if i == nil || i.index == nil {
		return ErrVectorDisabled
	}
	return i.index.DeleteProject(ctx, projectID)
}

func validateDocument(doc *entity.IndexDocument) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}
	if strings.TrimSpace(doc.EntityID) == "" || strings.TrimSpace(doc.ProjectID) == "" {
		return ErrInvalidVector
	}
	if !doc.EntityType.IsValid() {
		return fmt.Errorf("unsupported entity_type: %s", doc.EntityType)
	}
	return nil
}

func embedText(doc *entity.IndexDocument) string {
	title := strings.TrimSpace(doc.Title)
	text := strings.TrimSpace(doc.Text)
	if title == "" {
		return text
	}
	if text == "" {
		return title
	}
	return title + "\n" + text
}

// meanVector 切片向量均值，单切片直接返回
func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 1 {
		return vectors[0]
	}
	out := make([]float32, len(vectors[0]))
	for _, v := range vectors {
		for j := range out {
			if j < len(v) {
				out[j] += v[j]
			}
		}
	}
	n := float32(len(vectors))
	for j := range out {
		out[j] /= n
	}
	return out
}

func (i *Indexer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if i == nil || i.embedder == nil {
		return nil, ErrVectorDisabled
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(texts); start += i.embeddingBatchSize {
		start := start
		end := start + i.embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			v64, err := i.embedder.EmbedStrings(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if len(v64) != end-start {
				return fmt.Errorf("embed batch: expected %d vectors, got %d", end-start, len(v64))
			}
			for k, vec := range v64 {
				out[start+k] = toFloat32(vec)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
