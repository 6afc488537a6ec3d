package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/pkg/metrics"
)

type cacheKey struct {
	projectID string
	kind      entity.AnalysisKind
}

// MemoryCache 进程内缓存实现
type MemoryCache struct {
	mu       sync.RWMutex
	entries  map[cacheKey][]entity.CachedAnalysisResult
	lastSeen map[string]int64
	now      Clock
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache 创建进程内缓存，clock 为 nil 时使用 time.Now
func NewMemoryCache(clock Clock) *MemoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCache{
		entries:  make(map[cacheKey][]entity.CachedAnalysisResult),
		lastSeen: make(map[string]int64),
		now:      clock,
	}
}

func (c *MemoryCache) Put(ctx context.Context, projectID string, kind entity.AnalysisKind, payload json.RawMessage, ttl time.Duration) (*entity.CachedAnalysisResult, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, ErrProjectRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	at := NextStamp(c.now(), c.lastSeen[projectID])
	c.lastSeen[projectID] = at.UnixNano()

	res := entity.CachedAnalysisResult{
		ID:         ResultID(projectID, at),
		ProjectID:  projectID,
		Kind:       kind,
		Payload:    clonePayload(payload),
		AnalyzedAt: at,
		Expiry:     at.Add(normalizeTTL(ttl)),
	}
	k := cacheKey{projectID: projectID, kind: kind}
	c.entries[k] = append(c.entries[k], res)
	metrics.AnalysisCachePuts.WithLabelValues(string(kind)).Inc()

	out := res
	out.Payload = clonePayload(res.Payload)
	return &out, nil
}

func (c *MemoryCache) GetLatest(ctx context.Context, projectID string, kind entity.AnalysisKind) (*entity.CachedAnalysisResult, error) {
	now := c.now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	list := c.entries[cacheKey{projectID: strings.TrimSpace(projectID), kind: kind}]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Expired(now) {
			continue
		}
		out := list[i]
		out.Payload = clonePayload(list[i].Payload)
		out.IsCached = true
		metrics.AnalysisCacheLookups.WithLabelValues(string(kind), "hit").Inc()
		return &out, nil
	}
	metrics.AnalysisCacheLookups.WithLabelValues(string(kind), "miss").Inc()
	return nil, nil
}

func (c *MemoryCache) SweepExpired(ctx context.Context) (int, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, list := range c.entries {
		kept := list[:0]
		for _, e := range list {
			if e.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(c.entries, k)
			continue
		}
		c.entries[k] = kept
	}
	if removed > 0 {
		metrics.AnalysisSweepRemoved.Add(float64(removed))
	}
	return removed, nil
}

func (c *MemoryCache) DeleteProject(ctx context.Context, projectID string) (int, error) {
	projectID = strings.TrimSpace(projectID)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, list := range c.entries {
		if k.projectID != projectID {
			continue
		}
		removed += len(list)
		delete(c.entries, k)
	}
	return removed, nil
}

// Len 当前条目总数，包括尚未回收的过期条目
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, list := range c.entries {
		n += len(list)
	}
	return n
}
