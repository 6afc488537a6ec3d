// Package entity 定义领域实体
package entity

import (
	"time"
)

// EntityType 可被索引的实体类型
type EntityType string

const (
	EntityTypeProject       EntityType = "project"
	EntityTypeCharacter     EntityType = "character"
	EntityTypeWorldBuilding EntityType = "world_building"
	EntityTypeChapter       EntityType = "chapter"
)

// IsValid 检查实体类型是否合法
func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeProject, EntityTypeCharacter, EntityTypeWorldBuilding, EntityTypeChapter:
		return true
	default:
		return false
	}
}

// VectorMetadata 向量附带的检索载荷
type VectorMetadata struct {
	Title      string            `json:"title"`
	Text       string            `json:"text"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// IndexedVector 已索引的实体向量，按 EntityID 原地替换
type IndexedVector struct {
	EntityID   string         `json:"entity_id"`
	ProjectID  string         `json:"project_id"`
	EntityType EntityType     `json:"entity_type"`
	Vector     []float32      `json:"vector"`
	Metadata   VectorMetadata `json:"metadata"`
}

// RetrievalResult 单条检索结果，Similarity 位于 [0,1]
type RetrievalResult struct {
	EntityID   string         `json:"entity_id"`
	EntityType EntityType     `json:"entity_type"`
	Similarity float64        `json:"similarity"`
	Payload    VectorMetadata `json:"payload"`
}

// IndexDocument 待索引的实体文本，向量由索引器生成
type IndexDocument struct {
	EntityID   string            `json:"entity_id"`
	ProjectID  string            `json:"project_id"`
	EntityType EntityType        `json:"entity_type"`
	Title      string            `json:"title"`
	Text       string            `json:"text"`
	Attributes map[string]string `json:"attributes,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
