package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrVectorDisabled 表示向量检索/索引能力未配置（索引或 Embedder 不可用）。
	ErrVectorDisabled = errors.New("vector retrieval is disabled")

	// ErrDimensionMismatch 向量维度与索引维度不一致，属于调用方错误，不可重试。
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrZeroVector 零向量无法归一化。
	ErrZeroVector = errors.New("zero vector cannot be indexed")

	// ErrInvalidVector 缺少 entity_id 或 project_id。
	ErrInvalidVector = errors.New("indexed vector requires entity_id and project_id")
)

// DimensionMismatchError 携带期望与实际维度
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// Unwrap 使 errors.Is(err, ErrDimensionMismatch) 成立
func (e *DimensionMismatchError) Unwrap() error {
	return ErrDimensionMismatch
}

// IsDimensionMismatch 检查错误链中是否存在维度不一致
func IsDimensionMismatch(err error) bool {
	return errors.Is(err, ErrDimensionMismatch)
}
