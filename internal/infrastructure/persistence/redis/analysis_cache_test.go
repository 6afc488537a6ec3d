package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"plot-rag-api/internal/domain/entity"
)

func TestAnalysisCacheKeys(t *testing.T) {
	c := NewAnalysisCache(nil, "", nil)
	if got := c.indexKey("p1", entity.AnalysisKindSuggestions); got != "plot_rag:analysis:idx:p1:suggestions" {
		t.Fatalf("indexKey: %s", got)
	}
	if got := c.dataKey("p1"); got != "plot_rag:analysis:data:p1" {
		t.Fatalf("dataKey: %s", got)
	}
	if got := NewAnalysisCache(nil, "t:", nil).expiryKey(); got != "t:analysis:expiry" {
		t.Fatalf("expiryKey: %s", got)
	}
}

func TestExpiryMemberRoundTrip(t *testing.T) {
	kind, id, err := parseExpiryMember(expiryMember(entity.AnalysisKindSuggestions, "a|b:123"))
	if err != nil || kind != entity.AnalysisKindSuggestions || id != "a|b:123" {
		t.Fatalf("got %q %q %v", kind, id, err)
	}
	for _, bad := range []string{"", "|x", "suggestions|", "plain"} {
		if _, _, err := parseExpiryMember(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFirstLiveSkipsExpiredAndMissing(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	encode := func(id string, expiry time.Time) string {
		b, _ := json.Marshal(entity.CachedAnalysisResult{ID: id, ProjectID: "p", Expiry: expiry, Payload: json.RawMessage(`{}`)})
		return string(b)
	}

	got, err := firstLive([]interface{}{
		nil,
		encode("p:3", now.Add(-time.Second)),
		encode("p:2", now),
		encode("p:1", now.Add(time.Hour)),
	}, now.UnixMicro())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "p:2" {
		t.Fatalf("expected entry expiring exactly now to be live, got %+v", got)
	}

	got, err = firstLive([]interface{}{encode("p:1", now.Add(-time.Minute))}, now.UnixMicro())
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %+v %v", got, err)
	}
	if _, err := firstLive([]interface{}{"not json"}, now.UnixMicro()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFirstLiveUsesMicrosecondPrecision(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 1000, time.UTC)
	b, _ := json.Marshal(entity.CachedAnalysisResult{ID: "p:1", ProjectID: "p", Expiry: expiry.Add(400 * time.Nanosecond)})

	// 与清理相同：同一微秒内视为未过期
	now := expiry.Add(900 * time.Nanosecond)
	got, err := firstLive([]interface{}{string(b)}, now.UnixMicro())
	if err != nil || got == nil {
		t.Fatalf("entry within the same microsecond must stay live, got %+v %v", got, err)
	}
	got, err = firstLive([]interface{}{string(b)}, expiry.Add(time.Microsecond).UnixMicro())
	if err != nil || got != nil {
		t.Fatalf("entry from an earlier microsecond must be expired, got %+v %v", got, err)
	}
}

func TestGetLatestSurvivesCanceledLeader(t *testing.T) {
	want := &entity.CachedAnalysisResult{ID: "p1:1", ProjectID: "p1", Kind: entity.AnalysisKindSuggestions}
	release := make(chan struct{})
	started := make(chan struct{})
	var loads atomic.Int32
	c := NewAnalysisCache(nil, "", nil)
	c.load = func(ctx context.Context, _ string, _ entity.AnalysisKind) (*entity.CachedAnalysisResult, error) {
		if loads.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return want, nil
	}

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.GetLatest(leaderCtx, "p1", entity.AnalysisKindSuggestions)
		leaderErr <- err
	}()
	<-started

	follower := make(chan *entity.CachedAnalysisResult, 1)
	followerErr := make(chan error, 1)
	go func() {
		got, err := c.GetLatest(context.Background(), "p1", entity.AnalysisKindSuggestions)
		follower <- got
		followerErr <- err
	}()

	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader: expected context.Canceled, got %v", err)
	}
	close(release)

	got, err := <-follower, <-followerErr
	if err != nil || got == nil || got.ID != "p1:1" || !got.IsCached {
		t.Fatalf("follower: got %+v %v", got, err)
	}
	if loads.Load() > 2 {
		t.Fatalf("unexpected loads: %d", loads.Load())
	}
}

func TestBuildRateLimitKey(t *testing.T) {
	if got := BuildRateLimitKey("p1", "plot"); got != "ratelimit:p1:plot" {
		t.Fatalf("BuildRateLimitKey: %s", got)
	}
}
