package generation

import (
	"strings"

	"plot-rag-api/internal/domain/entity"
)

// ModelTier 模型档位
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierAdvanced ModelTier = "advanced"
)

const (
	defaultThreshold = 0.5

	lengthSaturation    = 200000
	characterSaturation = 10

	structureWeight = 0.4
	lengthWeight    = 0.35
	characterWeight = 0.25
)

// structureComplexity 各结构类型的相对复杂度
var structureComplexity = map[entity.StructureType]float64{
	entity.StructureThreeAct:      0.25,
	entity.StructureFourAct:       0.4,
	entity.StructureKishotenketsu: 0.5,
	entity.StructureFiveAct:       0.6,
	entity.StructureSevenPoint:    0.75,
	entity.StructureHeroJourney:   1.0,
}

// ComplexityScore 综合结构、篇幅、角色数计算 [0,1] 复杂度
func ComplexityScore(structureType entity.StructureType, targetLength, characterCount int) float64 {
	s, ok := structureComplexity[entity.StructureType(strings.TrimSpace(string(structureType)))]
	if !ok {
		s = structureComplexity[entity.StructureThreeAct]
	}
	return structureWeight*s +
		lengthWeight*saturate(float64(targetLength)/lengthSaturation) +
		characterWeight*saturate(float64(characterCount)/characterSaturation)
}

func saturate(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ModelSelector 按复杂度在两档模型间选择
type ModelSelector struct {
	FastModel     string
	AdvancedModel string
	Threshold     float64
}

// Tier 分数低于阈值使用 fast，达到阈值使用 advanced
func (s ModelSelector) Tier(score float64) ModelTier {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	if score < threshold {
		return TierFast
	}
	return TierAdvanced
}

// SelectModel 返回档位对应的模型名
func (s ModelSelector) SelectModel(score float64) string {
	if s.Tier(score) == TierAdvanced && s.AdvancedModel != "" {
		return s.AdvancedModel
	}
	if s.FastModel != "" {
		return s.FastModel
	}
	return s.AdvancedModel
}
