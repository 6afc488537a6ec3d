// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"context"
	"fmt"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plot-rag-api/internal/config"
)

var tracer = otel.Tracer("milvus")

// Client Milvus 客户端
type Client struct {
	milvus client.Client
	config *config.MilvusConfig
}

// NewClient 创建 Milvus 客户端
func NewClient(ctx context.Context, cfg *config.MilvusConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mc := client.Config{Address: addr}
	if cfg.User != "" && cfg.Password != "" {
		mc.Username = cfg.User
		mc.Password = cfg.Password
	}

	milvusClient, err := client.NewClient(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{
		milvus: milvusClient,
		config: cfg,
	}, nil
}

// Close 关闭 Milvus 连接
func (c *Client) Close() error {
	if c == nil || c.milvus == nil {
		return nil
	}
	return c.milvus.Close()
}

// HealthCheck 健康检查
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.HealthCheck")
	defer span.End()

	if _, err := c.milvus.HasCollection(ctx, c.CollectionName()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// CollectionName 向量集合名称
func (c *Client) CollectionName() string {
	if c == nil || c.config == nil || strings.TrimSpace(c.config.Collection) == "" {
		return DefaultCollection
	}
	return c.config.Collection
}

// EnsureCollection 确保集合与索引可用（不存在则创建），不会做破坏性操作
func (c *Client) EnsureCollection(ctx context.Context, dimension int) error {
	if c == nil || c.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}
	name := c.CollectionName()
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection",
		trace.WithAttributes(attribute.String("collection", name), attribute.Int("dimension", dimension)))
	defer span.End()

	exists, err := c.milvus.HasCollection(ctx, name)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !exists {
		if dimension <= 0 {
			return fmt.Errorf("cannot create collection %s without a vector dimension", name)
		}
		if err := c.milvus.CreateCollection(ctx, PlotVectorsSchema(name, dimension), entity.DefaultShardNumber); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(entity.COSINE, c.config.HNSWM, c.config.HNSWEfConstruction)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := c.milvus.CreateIndex(ctx, name, FieldVector, idx, false); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := c.milvus.LoadCollection(ctx, name, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

func (c *Client) hasPartition(ctx context.Context, partition string) (bool, error) {
	return c.milvus.HasPartition(ctx, c.CollectionName(), partition)
}

func (c *Client) createPartition(ctx context.Context, partition string) error {
	return c.milvus.CreatePartition(ctx, c.CollectionName(), partition)
}

// vectorRow 一行实体向量
type vectorRow struct {
	EntityID   string
	ProjectID  string
	EntityType string
	Title      string
	Text       string
	UpdatedAt  int64
	Attributes []byte
	Vector     []float32
}

// searchHit 一条检索命中，Score 为 COSINE 相似度
type searchHit struct {
	EntityID   string
	EntityType string
	Title      string
	Text       string
	UpdatedAt  int64
	Attributes []byte
	Score      float32
}

func (c *Client) upsert(ctx context.Context, partition string, dimension int, rows []vectorRow) error {
	n := len(rows)
	ids := make([]string, n)
	projects := make([]string, n)
	types := make([]string, n)
	titles := make([]string, n)
	texts := make([]string, n)
	updated := make([]int64, n)
	attrs := make([][]byte, n)
	vectors := make([][]float32, n)
	for i, r := range rows {
		ids[i] = r.EntityID
		projects[i] = r.ProjectID
		types[i] = r.EntityType
		titles[i] = r.Title
		texts[i] = r.Text
		updated[i] = r.UpdatedAt
		attrs[i] = r.Attributes
		vectors[i] = r.Vector
	}

	_, err := c.milvus.Upsert(ctx, c.CollectionName(), partition,
		entity.NewColumnVarChar(FieldEntityID, ids),
		entity.NewColumnFloatVector(FieldVector, dimension, vectors),
		entity.NewColumnVarChar(FieldProjectID, projects),
		entity.NewColumnVarChar(FieldEntityType, types),
		entity.NewColumnVarChar(FieldTitle, titles),
		entity.NewColumnVarChar(FieldText, texts),
		entity.NewColumnInt64(FieldUpdatedAt, updated),
		entity.NewColumnJSONBytes(FieldAttributes, attrs),
	)
	return err
}

func (c *Client) delete(ctx context.Context, partition, expr string) error {
	return c.milvus.Delete(ctx, c.CollectionName(), partition, expr)
}

func (c *Client) search(ctx context.Context, partition, expr string, vec []float32, topK int) ([]searchHit, error) {
	ef := c.config.SearchEf
	if ef < topK {
		ef = topK
	}
	sp, err := entity.NewIndexHNSWSearchParam(ef)
	if err != nil {
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}
	results, err := c.milvus.Search(ctx,
		c.CollectionName(),
		[]string{partition},
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(vec)},
		FieldVector,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, err
	}

	var hits []searchHit
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			h := searchHit{Score: result.Scores[i]}
			if col, ok := result.Fields.GetColumn(FieldEntityID).(*entity.ColumnVarChar); ok {
				h.EntityID = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn(FieldEntityType).(*entity.ColumnVarChar); ok {
				h.EntityType = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn(FieldTitle).(*entity.ColumnVarChar); ok {
				h.Title = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn(FieldText).(*entity.ColumnVarChar); ok {
				h.Text = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn(FieldUpdatedAt).(*entity.ColumnInt64); ok {
				h.UpdatedAt = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn(FieldAttributes).(*entity.ColumnJSONBytes); ok {
				h.Attributes = col.Data()[i]
			}
			hits = append(hits, h)
		}
	}
	return hits, nil
}
