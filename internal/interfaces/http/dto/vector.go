package dto

import (
	"encoding/json"
	"time"

	"plot-rag-api/internal/domain/entity"
)

// UpsertVectorRequest 实体索引请求
type UpsertVectorRequest struct {
	EntityType string            `json:"entity_type" binding:"required"`
	Title      string            `json:"title" binding:"max=512"`
	Text       string            `json:"text" binding:"required"`
	Attributes map[string]string `json:"attributes"`
	UpdatedAt  *time.Time        `json:"updated_at"`
	Async      bool              `json:"async"`
}

// ToDocument 转换为索引文档
func (r *UpsertVectorRequest) ToDocument(projectID, entityID string, now time.Time) *entity.IndexDocument {
	updated := now
	if r.UpdatedAt != nil && !r.UpdatedAt.IsZero() {
		updated = *r.UpdatedAt
	}
	return &entity.IndexDocument{
		EntityID:   entityID,
		ProjectID:  projectID,
		EntityType: entity.EntityType(r.EntityType),
		Title:      r.Title,
		Text:       r.Text,
		Attributes: r.Attributes,
		UpdatedAt:  updated.UTC(),
	}
}

// VectorResponse 索引操作结果
type VectorResponse struct {
	ProjectID string `json:"project_id"`
	EntityID  string `json:"entity_id"`
	Indexed   bool   `json:"indexed"`
	Queued    bool   `json:"queued"`
	MessageID string `json:"message_id,omitempty"`
}

// AnalysisResponse 缓存分析结果
type AnalysisResponse struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	AnalyzedAt string          `json:"analyzed_at"`
	Expiry     string          `json:"expiry"`
	IsCached   bool            `json:"is_cached"`
}

// ToAnalysisResponse 转换缓存条目
func ToAnalysisResponse(r *entity.CachedAnalysisResult) *AnalysisResponse {
	if r == nil {
		return nil
	}
	return &AnalysisResponse{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		Kind:       string(r.Kind),
		Payload:    r.Payload,
		AnalyzedAt: r.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		Expiry:     r.Expiry.UTC().Format(time.RFC3339Nano),
		IsCached:   r.IsCached,
	}
}

// PurgeResponse 项目清理结果
type PurgeResponse struct {
	ProjectID       string `json:"project_id"`
	PlotsDeleted    int64  `json:"plots_deleted"`
	AnalysesDeleted int    `json:"analyses_deleted"`
	VectorsDeleted  bool   `json:"vectors_deleted"`
	VectorsQueued   bool   `json:"vectors_queued"`
}
