package dto

import (
	"strings"
	"time"

	"plot-rag-api/internal/application/plot"
	"plot-rag-api/internal/domain/entity"
)

// CreatePlotRequest 生成剧情请求
type CreatePlotRequest struct {
	StructureType string   `json:"structure_type"`
	TargetLength  int      `json:"target_length" binding:"omitempty,min=0,max=10000000"`
	CharacterIDs  []string `json:"character_ids" binding:"omitempty,max=50,dive,max=64"`
	Provider      string   `json:"provider" binding:"omitempty,max=32"`
	Instructions  string   `json:"instructions" binding:"omitempty,max=2000"`
}

// ToPlotRequest 转换为流水线请求
func (r *CreatePlotRequest) ToPlotRequest(projectID string) plot.PlotRequest {
	ids := make([]string, 0, len(r.CharacterIDs))
	for _, id := range r.CharacterIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return plot.PlotRequest{
		ProjectID:     projectID,
		StructureType: entity.StructureType(r.StructureType),
		TargetLength:  r.TargetLength,
		CharacterIDs:  ids,
		Provider:      strings.TrimSpace(r.Provider),
		Instructions:  strings.TrimSpace(r.Instructions),
	}
}

// PlotActResponse 幕响应
type PlotActResponse struct {
	Index        int      `json:"index"`
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	StartPercent int      `json:"start_percent"`
	EndPercent   int      `json:"end_percent"`
	TargetLength int      `json:"target_length"`
	KeyEvents    []string `json:"key_events,omitempty"`
}

// PlotResponse 剧情结构响应
type PlotResponse struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"project_id"`
	StructureType string            `json:"structure_type"`
	Acts          []PlotActResponse `json:"acts"`
	Climax        string            `json:"climax"`
	Resolution    string            `json:"resolution"`
	Source        string            `json:"source"`
	Model         string            `json:"model,omitempty"`
	CharacterIDs  []string          `json:"character_ids,omitempty"`
	TargetLength  int               `json:"target_length"`
	CreatedAt     string            `json:"created_at"`
}

// PlotResultResponse 剧情生成结果
type PlotResultResponse struct {
	Plot           *PlotResponse `json:"plot"`
	WasFallback    bool          `json:"was_fallback"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	Model          string        `json:"model,omitempty"`
	Attempts       int           `json:"attempts"`
	References     []string      `json:"references"`
	Stages         []string      `json:"stages"`
}

// PlotListResponse 剧情列表响应
type PlotListResponse struct {
	Plots []*PlotResponse `json:"plots"`
}

// ToPlotResponse 转换剧情结构
func ToPlotResponse(p *entity.PlotStructure) *PlotResponse {
	if p == nil {
		return nil
	}
	acts := make([]PlotActResponse, 0, len(p.Acts))
	for _, a := range p.Acts {
		acts = append(acts, PlotActResponse{
			Index:        a.Index,
			Title:        a.Title,
			Summary:      a.Summary,
			StartPercent: a.StartPercent,
			EndPercent:   a.EndPercent,
			TargetLength: a.TargetLength,
			KeyEvents:    a.KeyEvents,
		})
	}
	return &PlotResponse{
		ID:            p.ID,
		ProjectID:     p.ProjectID,
		StructureType: string(p.StructureType),
		Acts:          acts,
		Climax:        p.Climax,
		Resolution:    p.Resolution,
		Source:        string(p.Source),
		Model:         p.Model,
		CharacterIDs:  []string(p.CharacterIDs),
		TargetLength:  p.TargetLength,
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ToPlotResultResponse 转换流水线结果
func ToPlotResultResponse(res *plot.PlotResult) *PlotResultResponse {
	if res == nil {
		return nil
	}
	stages := make([]string, 0, len(res.Stages))
	for _, s := range res.Stages {
		stages = append(stages, string(s))
	}
	refs := res.References
	if refs == nil {
		refs = []string{}
	}
	return &PlotResultResponse{
		Plot:           ToPlotResponse(res.Plot),
		WasFallback:    res.WasFallback,
		FallbackReason: string(res.FallbackReason),
		Model:          res.Model,
		Attempts:       res.Attempts,
		References:     refs,
		Stages:         stages,
	}
}

// ToPlotListResponse 转换剧情列表
func ToPlotListResponse(plots []*entity.PlotStructure) *PlotListResponse {
	out := make([]*PlotResponse, 0, len(plots))
	for _, p := range plots {
		out = append(out, ToPlotResponse(p))
	}
	return &PlotListResponse{Plots: out}
}

// PlotInput 客户端提交的剧情，用于获取建议
type PlotInput struct {
	StructureType string            `json:"structure_type"`
	Acts          []PlotActResponse `json:"acts" binding:"omitempty,max=20"`
	Climax        string            `json:"climax"`
	Resolution    string            `json:"resolution"`
	TargetLength  int               `json:"target_length"`
}

// ToEntity 转换为剧情结构，缺少幕时返回 nil
func (in *PlotInput) ToEntity(projectID string) *entity.PlotStructure {
	if in == nil || len(in.Acts) == 0 {
		return nil
	}
	acts := make([]entity.PlotAct, 0, len(in.Acts))
	for i, a := range in.Acts {
		idx := a.Index
		if idx <= 0 {
			idx = i + 1
		}
		acts = append(acts, entity.PlotAct{
			Index:        idx,
			Title:        a.Title,
			Summary:      a.Summary,
			StartPercent: a.StartPercent,
			EndPercent:   a.EndPercent,
			TargetLength: a.TargetLength,
			KeyEvents:    a.KeyEvents,
		})
	}
	return &entity.PlotStructure{
		ProjectID:     projectID,
		StructureType: plot.NormalizeStructureType(entity.StructureType(in.StructureType)),
		Acts:          acts,
		Climax:        in.Climax,
		Resolution:    in.Resolution,
		TargetLength:  in.TargetLength,
	}
}

// SuggestionRequest 请求剧情建议，plot 为空时使用项目最新剧情
type SuggestionRequest struct {
	Plot *PlotInput `json:"plot"`
}

// SuggestionResponse 剧情建议响应
type SuggestionResponse struct {
	Suggestions    []entity.Suggestion `json:"suggestions"`
	WasFallback    bool                `json:"was_fallback"`
	Cached         bool                `json:"cached"`
	FallbackReason string              `json:"fallback_reason,omitempty"`
	AnalysisID     string              `json:"analysis_id,omitempty"`
}

// ToSuggestionResponse 转换建议结果
func ToSuggestionResponse(res *plot.SuggestionResult) *SuggestionResponse {
	if res == nil {
		return nil
	}
	items := res.Suggestions
	if items == nil {
		items = []entity.Suggestion{}
	}
	return &SuggestionResponse{
		Suggestions:    items,
		WasFallback:    res.WasFallback,
		Cached:         res.Cached,
		FallbackReason: string(res.FallbackReason),
		AnalysisID:     res.AnalysisID,
	}
}
