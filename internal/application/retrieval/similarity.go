package retrieval

import (
	"math"
	"sort"

	"plot-rag-api/internal/domain/entity"
)

// Normalize 返回 L2 归一化后的副本，零向量或含 NaN 时返回 false
func Normalize(v []float32) ([]float32, bool) {
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		sum += f * f
	}
	if sum == 0 {
		return nil, false
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, true
}

// Dot 计算两个等长向量的点积
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// ClampSimilarity 将余弦值截断到 [0,1]
func ClampSimilarity(s float64) float64 {
	switch {
	case math.IsNaN(s), s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// RankResults 过滤低于阈值的结果并按相似度降序排序，
// 相同相似度按 UpdatedAt 降序、EntityID 升序。k > 0 时截断。
func RankResults(results []entity.RetrievalResult, minSimilarity float64, k int) []entity.RetrievalResult {
	out := make([]entity.RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return resultLess(out[i], out[j])
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func resultLess(a, b entity.RetrievalResult) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if !a.Payload.UpdatedAt.Equal(b.Payload.UpdatedAt) {
		return a.Payload.UpdatedAt.After(b.Payload.UpdatedAt)
	}
	return a.EntityID < b.EntityID
}
