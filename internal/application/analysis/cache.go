// Package analysis 提供分析结果缓存及其过期清理
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"plot-rag-api/internal/domain/entity"
)

// DefaultTTL ttl 非正时使用
const DefaultTTL = 24 * time.Hour

// ErrProjectRequired 缺少项目 ID
var ErrProjectRequired = errors.New("analysis: project id is required")

// Cache 分析结果缓存。写入只追加，过期条目由 SweepExpired 回收。
type Cache interface {
	Put(ctx context.Context, projectID string, kind entity.AnalysisKind, payload json.RawMessage, ttl time.Duration) (*entity.CachedAnalysisResult, error)
	// GetLatest 返回最新的未过期条目，没有时返回 nil, nil
	GetLatest(ctx context.Context, projectID string, kind entity.AnalysisKind) (*entity.CachedAnalysisResult, error)
	SweepExpired(ctx context.Context) (int, error)
	DeleteProject(ctx context.Context, projectID string) (int, error)
}

// Clock 当前时间来源
type Clock func() time.Time

// ResultID 生成 projectID:unixnanos 形式的 ID
func ResultID(projectID string, analyzedAt time.Time) string {
	return projectID + ":" + strconv.FormatInt(analyzedAt.UnixNano(), 10)
}

// ParseResultID 拆分 ResultID
func ParseResultID(id string) (projectID string, nanos int64, err error) {
	idx := strings.LastIndexByte(id, ':')
	if idx <= 0 {
		return "", 0, fmt.Errorf("invalid analysis id %q", id)
	}
	nanos, err = strconv.ParseInt(id[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid analysis id %q: %w", id, err)
	}
	return id[:idx], nanos, nil
}

// NextStamp 保证同一项目内时间戳严格递增
func NextStamp(now time.Time, last int64) time.Time {
	n := now.UnixNano()
	if n <= last {
		n = last + 1
	}
	return time.Unix(0, n).UTC()
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func clonePayload(p json.RawMessage) json.RawMessage {
	if p == nil {
		return nil
	}
	return append(json.RawMessage(nil), p...)
}
