package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"plot-rag-api/internal/domain/entity"
)

func vec(project, id string, t entity.EntityType, updated time.Time, v ...float32) *entity.IndexedVector {
	return &entity.IndexedVector{
		EntityID:   id,
		ProjectID:  project,
		EntityType: t,
		Vector:     v,
		Metadata:   entity.VectorMetadata{Title: id, UpdatedAt: updated},
	}
}

func TestMemoryIndexEmptyReturnsEmptySlice(t *testing.T) {
	idx := NewMemoryIndex(0)
	got, err := idx.Query(context.Background(), QueryParams{ProjectID: "p", Vector: []float32{1, 0}, K: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestMemoryIndexThresholdAndOrdering(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	must := func(v *entity.IndexedVector) {
		t.Helper()
		if err := idx.Upsert(ctx, v); err != nil {
			t.Fatalf("Upsert %s: %v", v.EntityID, err)
		}
	}
	must(vec("p", "exact", entity.EntityTypeCharacter, t0, 1, 0))
	// 同向不同模长，相似度同为 1，更新时间更晚者优先
	must(vec("p", "newer", entity.EntityTypeCharacter, t0.Add(time.Hour), 2, 0))
	// 同相似度同时间按 EntityID 升序
	must(vec("p", "a-tie", entity.EntityTypeChapter, t0, 3, 0))
	must(vec("p", "close", entity.EntityTypeCharacter, t0, 0.8, 0.6)) // 0.8
	must(vec("p", "far", entity.EntityTypeCharacter, t0, 0.5, 0.866)) // 0.5，低于阈值
	must(vec("p", "opposite", entity.EntityTypeCharacter, t0, -1, 0))
	must(vec("other", "foreign", entity.EntityTypeCharacter, t0, 1, 0))

	got, err := idx.Query(ctx, QueryParams{ProjectID: "p", Vector: []float32{1, 0}, K: 10})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	wantIDs := []string{"newer", "a-tie", "exact", "close"}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d results (%v), want %d", len(got), ids(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].EntityID != id {
			t.Fatalf("position %d: got %s, want %s (all: %v)", i, got[i].EntityID, id, ids(got))
		}
	}
	for _, r := range got {
		if r.Similarity < DefaultMinSimilarity || r.Similarity > 1 {
			t.Fatalf("similarity out of range: %v", r.Similarity)
		}
	}
}

func TestMemoryIndexCustomThresholdIncludesLowScores(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	_ = idx.Upsert(ctx, vec("p", "far", entity.EntityTypeCharacter, time.Now(), 0.5, 0.866))

	got, err := idx.Query(ctx, QueryParams{ProjectID: "p", Vector: []float32{1, 0}, MinSimilarity: 0.4})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result with threshold 0.4, got %d", len(got))
	}
}

func TestMemoryIndexOppositeVectorClampedToZero(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	_ = idx.Upsert(ctx, vec("p", "opposite", entity.EntityTypeCharacter, time.Now(), -1, 0))

	got, err := idx.Query(ctx, QueryParams{ProjectID: "p", Vector: []float32{1, 0}, MinSimilarity: 1e-9})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("clamped similarity 0 should be below any positive threshold, got %v", got)
	}
}

func TestMemoryIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	if err := idx.Upsert(ctx, vec("p", "a", entity.EntityTypeCharacter, time.Now(), 1, 0, 0)); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if idx.Dimension() != 3 {
		t.Fatalf("dimension: got %d, want 3", idx.Dimension())
	}

	err := idx.Upsert(ctx, vec("p", "b", entity.EntityTypeCharacter, time.Now(), 1, 0))
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) || dm.Expected != 3 || dm.Got != 2 {
		t.Fatalf("upsert: expected DimensionMismatchError{3,2}, got %v", err)
	}

	_, err = idx.Query(ctx, QueryParams{ProjectID: "p", Vector: []float32{1, 0}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("query: expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMemoryIndexRejectsZeroVector(t *testing.T) {
	idx := NewMemoryIndex(0)
	err := idx.Upsert(context.Background(), vec("p", "z", entity.EntityTypeCharacter, time.Now(), 0, 0))
	if !errors.Is(err, ErrZeroVector) {
		t.Fatalf("expected ErrZeroVector, got %v", err)
	}
}

func TestMemoryIndexUpsertReplacesAndDeletes(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	_ = idx.Upsert(ctx, vec("p", "hero", entity.EntityTypeCharacter, time.Now(), 1, 0))
	_ = idx.Upsert(ctx, vec("p", "hero", entity.EntityTypeCharacter, time.Now(), 0, 1))
	if idx.Len() != 1 {
		t.Fatalf("upsert should replace in place, len=%d", idx.Len())
	}

	got, _ := idx.Query(ctx, QueryParams{ProjectID: "p", Vector: []float32{0, 1}})
	if len(got) != 1 || got[0].Similarity < 0.999 {
		t.Fatalf("expected replaced vector to match, got %v", got)
	}

	_ = idx.Upsert(ctx, vec("p", "villain", entity.EntityTypeCharacter, time.Now(), 0, 1))
	_ = idx.Upsert(ctx, vec("q", "stranger", entity.EntityTypeCharacter, time.Now(), 0, 1))
	if err := idx.Delete(ctx, "p", "hero"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := idx.DeleteProject(ctx, "p"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if idx.Len() != 1 {
		t.Fatalf("only the other project's vector should remain, len=%d", idx.Len())
	}
}

func TestMemoryIndexEntityTypeFilter(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(0)
	_ = idx.Upsert(ctx, vec("p", "c1", entity.EntityTypeCharacter, time.Now(), 1, 0))
	_ = idx.Upsert(ctx, vec("p", "ch1", entity.EntityTypeChapter, time.Now(), 1, 0))

	got, _ := idx.Query(ctx, QueryParams{ProjectID: "p", Vector: []float32{1, 0}, EntityType: entity.EntityTypeChapter})
	if len(got) != 1 || got[0].EntityID != "ch1" {
		t.Fatalf("expected only chapter result, got %v", ids(got))
	}
}

func TestMemoryIndexConcurrentUpsertLastWriterWins(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(2)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = idx.Upsert(ctx, vec("p", "hero", entity.EntityTypeCharacter, time.Now(), float32(i+1), 1))
			_, _ = idx.Query(ctx, QueryParams{ProjectID: "p", Vector: []float32{1, 1}})
		}(i)
	}
	wg.Wait()
	if idx.Len() != 1 {
		t.Fatalf("expected a single record, got %d", idx.Len())
	}
}

func ids(rs []entity.RetrievalResult) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.EntityID)
	}
	return out
}
