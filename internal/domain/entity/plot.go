package entity

import (
	"time"

	"github.com/lib/pq"
)

// StructureType 剧情结构类型
type StructureType string

const (
	StructureThreeAct      StructureType = "three_act"
	StructureFourAct       StructureType = "four_act"
	StructureFiveAct       StructureType = "five_act"
	StructureHeroJourney   StructureType = "hero_journey"
	StructureSevenPoint    StructureType = "seven_point"
	StructureKishotenketsu StructureType = "kishotenketsu"
)

// KnownStructureTypes 支持的结构类型
var KnownStructureTypes = []StructureType{
	StructureThreeAct,
	StructureFourAct,
	StructureFiveAct,
	StructureHeroJourney,
	StructureSevenPoint,
	StructureKishotenketsu,
}

// IsKnown 检查结构类型是否受支持
func (s StructureType) IsKnown() bool {
	for _, t := range KnownStructureTypes {
		if s == t {
			return true
		}
	}
	return false
}

// PlotSource 剧情来源
type PlotSource string

const (
	PlotSourceLLM      PlotSource = "llm"
	PlotSourceTemplate PlotSource = "template"
)

// PlotAct 剧情幕
type PlotAct struct {
	Index        int      `json:"index"`
	Title        string   `json:"title"`
	Summary      string   `json:"summary"`
	StartPercent int      `json:"start_percent"`
	EndPercent   int      `json:"end_percent"`
	TargetLength int      `json:"target_length"`
	KeyEvents    []string `json:"key_events,omitempty"`
}

// PlotStructure 剧情结构
type PlotStructure struct {
	ID            string         `json:"id" gorm:"primaryKey;type:uuid"`
	ProjectID     string         `json:"project_id" gorm:"index;not null"`
	StructureType StructureType  `json:"structure_type"`
	Acts          []PlotAct      `json:"acts" gorm:"serializer:json;type:jsonb"`
	Climax        string         `json:"climax"`
	Resolution    string         `json:"resolution"`
	Source        PlotSource     `json:"source"`
	Model         string         `json:"model,omitempty"`
	CharacterIDs  pq.StringArray `json:"character_ids" gorm:"type:text[]"`
	TargetLength  int            `json:"target_length"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName 表名
func (PlotStructure) TableName() string {
	return "plot_structures"
}

// IsFromTemplate 是否由模板生成
func (p *PlotStructure) IsFromTemplate() bool {
	return p != nil && p.Source == PlotSourceTemplate
}
