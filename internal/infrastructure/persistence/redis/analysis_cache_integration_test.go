//go:build integration

package redis

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"plot-rag-api/internal/domain/entity"
)

// setupCache 连接 REDIS_ADDR 指向的实例，未设置时跳过
func setupCache(t *testing.T, clock func() time.Time) (*AnalysisCache, *Client) {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping integration test")
	}
	client := Wrap(goredis.NewClient(&goredis.Options{Addr: addr}))
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewAnalysisCache(client, "test:"+uuid.NewString()+":", clock), client
}

func TestAnalysisCacheLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	cache, _ := setupCache(t, clock)
	ctx := context.Background()
	kind := entity.AnalysisKindSuggestions

	first, err := cache.Put(ctx, "p1", kind, json.RawMessage(`{"n":1}`), time.Minute)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	second, err := cache.Put(ctx, "p1", kind, json.RawMessage(`{"n":2}`), time.Hour)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !second.AnalyzedAt.After(first.AnalyzedAt) {
		t.Fatalf("stamps not increasing: %v then %v", first.AnalyzedAt, second.AnalyzedAt)
	}

	got, err := cache.GetLatest(ctx, "p1", kind)
	if err != nil || got == nil || got.ID != second.ID || !got.IsCached || string(got.Payload) != `{"n":2}` {
		t.Fatalf("GetLatest: %+v %v", got, err)
	}

	advance(2 * time.Minute)
	removed, err := cache.SweepExpired(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("SweepExpired removed %d, err %v", removed, err)
	}

	n, err := cache.DeleteProject(ctx, "p1")
	if err != nil || n != 1 {
		t.Fatalf("DeleteProject: %d %v", n, err)
	}
	if got, _ := cache.GetLatest(ctx, "p1", kind); got != nil {
		t.Fatalf("expected miss after delete, got %+v", got)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	_, client := setupCache(t, nil)
	l := NewRateLimiter(client)
	ctx := context.Background()
	key := BuildRateLimitKey(uuid.NewString(), "plot")
	t.Cleanup(func() { _ = l.Reset(ctx, key) })

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	if ok, _ := l.Allow(ctx, key, 3, time.Minute); ok {
		t.Fatal("fourth request should be rejected")
	}
	if rem, _ := l.Remaining(ctx, key, 3, time.Minute); rem != 0 {
		t.Fatalf("remaining: %d", rem)
	}
}
