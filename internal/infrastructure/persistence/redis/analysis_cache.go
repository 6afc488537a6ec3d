package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/pkg/metrics"
)

// DefaultKeyPrefix 未配置前缀时使用
const DefaultKeyPrefix = "plot_rag:"

const (
	latestPageSize = 16
	sweepBatchSize = 256
	loadTimeout    = 5 * time.Second
)

// stampScript 为项目分配严格递增的微秒时间戳
var stampScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
local now = tonumber(ARGV[1])
if now <= last then
  now = last + 1
end
redis.call('SET', KEYS[1], now)
return now
`)

// AnalysisCache 基于 Redis 的分析结果缓存。
//
// 每个项目+类别一个 ZSET 索引（分数为分析时间），条目 JSON 存于项目 HASH，
// 全局 ZSET 按过期时间排序供清理使用。
type AnalysisCache struct {
	client *Client
	prefix string
	now    analysis.Clock
	group  singleflight.Group
	load   func(ctx context.Context, projectID string, kind entity.AnalysisKind) (*entity.CachedAnalysisResult, error)
}

var _ analysis.Cache = (*AnalysisCache)(nil)

// NewAnalysisCache 创建 Redis 分析结果缓存
func NewAnalysisCache(client *Client, prefix string, clock analysis.Clock) *AnalysisCache {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if clock == nil {
		clock = time.Now
	}
	c := &AnalysisCache{client: client, prefix: prefix, now: clock}
	c.load = c.loadLatest
	return c
}

func (c *AnalysisCache) indexKey(projectID string, kind entity.AnalysisKind) string {
	return c.prefix + "analysis:idx:" + projectID + ":" + string(kind)
}

func (c *AnalysisCache) dataKey(projectID string) string {
	return c.prefix + "analysis:data:" + projectID
}

func (c *AnalysisCache) stampKey(projectID string) string {
	return c.prefix + "analysis:stamp:" + projectID
}

func (c *AnalysisCache) expiryKey() string {
	return c.prefix + "analysis:expiry"
}

func expiryMember(kind entity.AnalysisKind, id string) string {
	return string(kind) + "|" + id
}

func parseExpiryMember(m string) (entity.AnalysisKind, string, error) {
	idx := strings.IndexByte(m, '|')
	if idx <= 0 || idx == len(m)-1 {
		return "", "", fmt.Errorf("invalid expiry member %q", m)
	}
	return entity.AnalysisKind(m[:idx]), m[idx+1:], nil
}

func (c *AnalysisCache) Put(ctx context.Context, projectID string, kind entity.AnalysisKind, payload json.RawMessage, ttl time.Duration) (*entity.CachedAnalysisResult, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, analysis.ErrProjectRequired
	}
	ctx, span := tracer.Start(ctx, "redis.AnalysisCache.Put", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("analysis.kind", string(kind)),
	))
	defer span.End()

	micros, err := stampScript.Run(ctx, c.client.rdb, []string{c.stampKey(projectID)}, c.now().UnixMicro()).Int64()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to allocate analysis stamp: %w", err)
	}
	if ttl <= 0 {
		ttl = analysis.DefaultTTL
	}
	at := time.UnixMicro(micros).UTC()
	res := entity.CachedAnalysisResult{
		ID:         analysis.ResultID(projectID, at),
		ProjectID:  projectID,
		Kind:       kind,
		Payload:    append(json.RawMessage(nil), payload...),
		AnalyzedAt: at,
		Expiry:     at.Add(ttl),
	}
	data, err := json.Marshal(&res)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis result: %w", err)
	}

	_, err = c.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, c.dataKey(projectID), res.ID, data)
		pipe.ZAdd(ctx, c.indexKey(projectID, kind), redis.Z{Score: float64(micros), Member: res.ID})
		pipe.ZAdd(ctx, c.expiryKey(), redis.Z{Score: float64(res.Expiry.UnixMicro()), Member: expiryMember(kind, res.ID)})
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to store analysis result: %w", err)
	}
	metrics.AnalysisCachePuts.WithLabelValues(string(kind)).Inc()
	return &res, nil
}

// GetLatest 同一项目与类别的并发读取合并为一次 Redis 访问
func (c *AnalysisCache) GetLatest(ctx context.Context, projectID string, kind entity.AnalysisKind) (*entity.CachedAnalysisResult, error) {
	projectID = strings.TrimSpace(projectID)
	ctx, span := tracer.Start(ctx, "redis.AnalysisCache.GetLatest", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("analysis.kind", string(kind)),
	))
	defer span.End()

	// 合并后的读取不受单个调用方取消影响，调用方各自按自身 ctx 放弃等待
	ch := c.group.DoChan(projectID+"\x00"+string(kind), func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return c.load(loadCtx, projectID, kind)
	})
	var r singleflight.Result
	select {
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	case r = <-ch:
	}
	span.SetAttributes(attribute.Bool("cache.shared", r.Shared))
	if r.Err != nil {
		span.RecordError(r.Err)
		return nil, r.Err
	}
	hit, _ := r.Val.(*entity.CachedAnalysisResult)
	if hit == nil {
		metrics.AnalysisCacheLookups.WithLabelValues(string(kind), "miss").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, nil
	}
	metrics.AnalysisCacheLookups.WithLabelValues(string(kind), "hit").Inc()
	span.SetAttributes(attribute.Bool("cache.hit", true))

	out := *hit
	out.Payload = append(json.RawMessage(nil), hit.Payload...)
	out.IsCached = true
	return &out, nil
}

func (c *AnalysisCache) loadLatest(ctx context.Context, projectID string, kind entity.AnalysisKind) (*entity.CachedAnalysisResult, error) {
	now := c.now().UnixMicro()
	idx := c.indexKey(projectID, kind)
	for start := int64(0); ; start += latestPageSize {
		ids, err := c.client.rdb.ZRevRange(ctx, idx, start, start+latestPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read analysis index: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		raws, err := c.client.rdb.HMGet(ctx, c.dataKey(projectID), ids...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read analysis results: %w", err)
		}
		hit, err := firstLive(raws, now)
		if err != nil || hit != nil {
			return hit, err
		}
		if len(ids) < latestPageSize {
			return nil, nil
		}
	}
}

// firstLive 返回按新到旧排列的条目中第一个未过期的，缺失的条目被跳过。
// 过期判断与清理一致，均按微秒比较。
func firstLive(raws []interface{}, nowMicros int64) (*entity.CachedAnalysisResult, error) {
	for _, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var res entity.CachedAnalysisResult
		if err := json.Unmarshal([]byte(s), &res); err != nil {
			return nil, fmt.Errorf("failed to decode analysis result: %w", err)
		}
		if res.Expiry.UnixMicro() < nowMicros {
			continue
		}
		return &res, nil
	}
	return nil, nil
}

func (c *AnalysisCache) SweepExpired(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "redis.AnalysisCache.SweepExpired")
	defer span.End()

	// Expiry 严格早于 now 才算过期
	upper := "(" + strconv.FormatInt(c.now().UnixMicro(), 10)
	removed := 0
	for {
		members, err := c.client.rdb.ZRangeByScore(ctx, c.expiryKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   upper,
			Count: sweepBatchSize,
		}).Result()
		if err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("failed to scan expired analyses: %w", err)
		}
		if len(members) == 0 {
			break
		}

		_, err = c.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range members {
				pipe.ZRem(ctx, c.expiryKey(), m)
				kind, id, err := parseExpiryMember(m)
				if err != nil {
					continue
				}
				projectID, _, err := analysis.ParseResultID(id)
				if err != nil {
					continue
				}
				pipe.ZRem(ctx, c.indexKey(projectID, kind), id)
				pipe.HDel(ctx, c.dataKey(projectID), id)
			}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("failed to remove expired analyses: %w", err)
		}
		removed += len(members)
		if len(members) < sweepBatchSize {
			break
		}
	}
	if removed > 0 {
		metrics.AnalysisSweepRemoved.Add(float64(removed))
	}
	span.SetAttributes(attribute.Int("analysis.removed", removed))
	return removed, nil
}

func (c *AnalysisCache) DeleteProject(ctx context.Context, projectID string) (int, error) {
	projectID = strings.TrimSpace(projectID)
	ctx, span := tracer.Start(ctx, "redis.AnalysisCache.DeleteProject", trace.WithAttributes(
		attribute.String("project_id", projectID),
	))
	defer span.End()

	entries, err := c.client.rdb.HGetAll(ctx, c.dataKey(projectID)).Result()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to list project analyses: %w", err)
	}

	kinds := make(map[entity.AnalysisKind]struct{})
	_, err = c.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, raw := range entries {
			var res entity.CachedAnalysisResult
			if err := json.Unmarshal([]byte(raw), &res); err != nil {
				continue
			}
			kinds[res.Kind] = struct{}{}
			pipe.ZRem(ctx, c.expiryKey(), expiryMember(res.Kind, id))
		}
		keys := []string{c.dataKey(projectID), c.stampKey(projectID)}
		for k := range kinds {
			keys = append(keys, c.indexKey(projectID, k))
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to delete project analyses: %w", err)
	}
	return len(entries), nil
}
