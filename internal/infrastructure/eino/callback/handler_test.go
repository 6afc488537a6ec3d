package callback

import (
	"context"
	"testing"
	"time"

	"plot-rag-api/internal/domain/service"
)

func TestModelNamePrefersCallbackValue(t *testing.T) {
	ctx := service.WithModel(context.Background(), "from-ctx")
	cases := []struct {
		ctx  context.Context
		in   string
		want string
	}{
		{ctx, "from-callback", "from-callback"},
		{ctx, "", "from-ctx"},
		{context.Background(), "", "unknown"},
	}
	for _, tc := range cases {
		if got := modelName(tc.ctx, tc.in); got != tc.want {
			t.Fatalf("modelName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestElapsedSeconds(t *testing.T) {
	if elapsedSeconds(context.Background()) != 0 {
		t.Fatal("missing start time should yield 0")
	}
	ctx := context.WithValue(context.Background(), startTimeKey{}, time.Now().Add(-time.Second))
	if d := elapsedSeconds(ctx); d < 1 {
		t.Fatalf("elapsed = %v", d)
	}
}
