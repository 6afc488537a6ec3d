package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"plot-rag-api/internal/domain/entity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

const kind = entity.AnalysisKindSuggestions

func TestMemoryCachePutAndGetLatest(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(clock.Now)
	ctx := context.Background()

	got, err := c.GetLatest(ctx, "p1", kind)
	if err != nil || got != nil {
		t.Fatalf("empty cache: got %v, %v", got, err)
	}

	first, err := c.Put(ctx, "p1", kind, json.RawMessage(`{"n":1}`), time.Hour)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if first.IsCached {
		t.Fatal("Put result should not be marked cached")
	}
	second, _ := c.Put(ctx, "p1", kind, json.RawMessage(`{"n":2}`), time.Hour)

	got, err = c.GetLatest(ctx, "p1", kind)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if got.ID != second.ID || string(got.Payload) != `{"n":2}` || !got.IsCached {
		t.Fatalf("unexpected latest: %+v", got)
	}
	got.Payload[2] = 'x'
	again, _ := c.GetLatest(ctx, "p1", kind)
	if string(again.Payload) != `{"n":2}` {
		t.Fatal("returned payload aliases cache storage")
	}
	if other, _ := c.GetLatest(ctx, "p2", kind); other != nil {
		t.Fatal("projects must not share entries")
	}
}

func TestMemoryCacheIDsStrictlyIncrease(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(clock.Now)

	var prev int64
	for i := 0; i < 5; i++ {
		res, err := c.Put(context.Background(), "p1", kind, nil, 0)
		if err != nil {
			t.Fatal(err)
		}
		pid, nanos, err := ParseResultID(res.ID)
		if err != nil || pid != "p1" {
			t.Fatalf("bad id %q: %v", res.ID, err)
		}
		if nanos <= prev {
			t.Fatalf("id %d not greater than %d", nanos, prev)
		}
		if !strings.HasPrefix(res.ID, "p1:") {
			t.Fatalf("id format: %q", res.ID)
		}
		if got := res.Expiry.Sub(res.AnalyzedAt); got != DefaultTTL {
			t.Fatalf("default ttl: got %v", got)
		}
		prev = nanos
	}
}

func TestMemoryCacheExpiryBoundary(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(clock.Now)
	ctx := context.Background()

	res, _ := c.Put(ctx, "p1", kind, json.RawMessage(`1`), time.Minute)
	clock.Advance(res.Expiry.Sub(clock.Now()))

	if got, _ := c.GetLatest(ctx, "p1", kind); got == nil {
		t.Fatal("entry expiring exactly now is still valid")
	}
	if n, _ := c.SweepExpired(ctx); n != 0 {
		t.Fatalf("sweep removed %d entries at the boundary", n)
	}

	clock.Advance(time.Nanosecond)
	if got, _ := c.GetLatest(ctx, "p1", kind); got != nil {
		t.Fatal("expired entry returned")
	}
	if n, _ := c.SweepExpired(ctx); n != 1 {
		t.Fatalf("sweep removed %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Fatalf("len after sweep: %d", c.Len())
	}
}

func TestMemoryCacheGetLatestSkipsExpiredNewer(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(clock.Now)
	ctx := context.Background()

	older, _ := c.Put(ctx, "p1", kind, json.RawMessage(`"long"`), time.Hour)
	_, _ = c.Put(ctx, "p1", kind, json.RawMessage(`"short"`), time.Second)
	clock.Advance(2 * time.Second)

	got, _ := c.GetLatest(ctx, "p1", kind)
	if got == nil || got.ID != older.ID {
		t.Fatalf("expected older unexpired entry, got %+v", got)
	}
}

func TestMemoryCacheDeleteProject(t *testing.T) {
	c := NewMemoryCache(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = c.Put(ctx, "p1", kind, nil, time.Hour)
	}
	_, _ = c.Put(ctx, "p2", kind, nil, time.Hour)

	n, err := c.DeleteProject(ctx, "p1")
	if err != nil || n != 3 {
		t.Fatalf("DeleteProject: n=%d err=%v", n, err)
	}
	if c.Len() != 1 {
		t.Fatalf("len: %d", c.Len())
	}
}

func TestMemoryCacheRejectsEmptyProject(t *testing.T) {
	c := NewMemoryCache(nil)
	if _, err := c.Put(context.Background(), " ", kind, nil, 0); !errors.Is(err, ErrProjectRequired) {
		t.Fatalf("expected ErrProjectRequired, got %v", err)
	}
}

func TestMemoryCacheConcurrentPutAndSweep(t *testing.T) {
	clock := newFakeClock()
	c := NewMemoryCache(clock.Now)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = c.Put(ctx, fmt.Sprintf("p%d", w%2), kind, nil, time.Hour)
				_, _ = c.SweepExpired(ctx)
				_, _ = c.GetLatest(ctx, "p0", kind)
			}
		}(w)
	}
	wg.Wait()
	if c.Len() != 400 {
		t.Fatalf("len: got %d, want 400", c.Len())
	}
}

func TestParseResultIDRejectsGarbage(t *testing.T) {
	for _, id := range []string{"", "nocolon", ":123", "p1:abc"} {
		if _, _, err := ParseResultID(id); err == nil {
			t.Fatalf("%q should not parse", id)
		}
	}
}
