package entity

import (
	"encoding/json"
	"time"
)

// AnalysisKind 分析结果类别
type AnalysisKind string

const (
	AnalysisKindSuggestions AnalysisKind = "suggestions"
)

// CachedAnalysisResult 缓存的分析结果，ID 为 projectID:unixnanos
type CachedAnalysisResult struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Kind       AnalysisKind    `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	AnalyzedAt time.Time       `json:"analyzed_at"`
	Expiry     time.Time       `json:"expiry"`
	IsCached   bool            `json:"is_cached"`
}

// Expired 在 Expiry 严格早于 now 时过期
func (r *CachedAnalysisResult) Expired(now time.Time) bool {
	return r.Expiry.Before(now)
}
