package plot

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/application/generation"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/domain/repository"
)

const validPlot = "```json\n" + `{"acts":[{"title":"Arrival","summary":"Lin reaches the island"},{"title":"Storm","summary":"The lighthouse fails"},{"title":"Dawn","summary":"Ships return"}],"climax":"Lin relights the lamp"}` + "\n```"

type fakeRetriever struct {
	fn func(ctx context.Context, q retrieval.Query) ([]entity.RetrievalResult, error)
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q retrieval.Query) ([]entity.RetrievalResult, error) {
	return f.fn(ctx, q)
}

type fakeGenerator struct {
	calls atomic.Int32
	mu    sync.Mutex
	reqs  []generation.Request
	fn    func(ctx context.Context, req generation.Request) (*generation.Response, error)
}

func (f *fakeGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Response, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeGenerator) lastRequest() generation.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

func respondWith(text string) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context, generation.Request) (*generation.Response, error) {
		return &generation.Response{Text: text, Model: "fast-model", Attempts: 1}, nil
	}}
}

type fakePlotRepo struct {
	mu      sync.Mutex
	saved   []*entity.PlotStructure
	saveErr error
}

var _ repository.PlotRepository = (*fakePlotRepo)(nil)

func (r *fakePlotRepo) Save(_ context.Context, p *entity.PlotStructure) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, p)
	return nil
}

func (r *fakePlotRepo) GetByID(_ context.Context, id string) (*entity.PlotStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.saved {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (r *fakePlotRepo) GetLatest(_ context.Context, projectID string) (*entity.PlotStructure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.saved) - 1; i >= 0; i-- {
		if r.saved[i].ProjectID == projectID {
			return r.saved[i], nil
		}
	}
	return nil, nil
}

func (r *fakePlotRepo) ListByProject(_ context.Context, projectID string, _ *repository.PlotFilter, pg repository.Pagination) (*repository.PagedResult[*entity.PlotStructure], error) {
	return &repository.PagedResult[*entity.PlotStructure]{Page: pg.Page, PageSize: pg.PageSize}, nil
}

func (r *fakePlotRepo) DeleteByProject(_ context.Context, projectID string) (int64, error) {
	return 0, nil
}

func (r *fakePlotRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func emptyRetriever() *fakeRetriever {
	return &fakeRetriever{fn: func(context.Context, retrieval.Query) ([]entity.RetrievalResult, error) {
		return nil, nil
	}}
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("plot-%d", n.Add(1)) }
}

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestPipeline(r Retriever, g Generator, repo repository.PlotRepository, cache analysis.Cache, cfg Config) *Pipeline {
	return NewPipeline(r, nil, g, repo, cache, cfg,
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(sequentialIDs()),
	)
}

func TestRequestPlotSucceedsWithEmptyContext(t *testing.T) {
	repo := &fakePlotRepo{}
	gen := respondWith(validPlot)
	p := newTestPipeline(emptyRetriever(), gen, repo, nil, Config{Persist: true})

	res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1", StructureType: entity.StructureThreeAct, TargetLength: 9000})
	if err != nil {
		t.Fatalf("RequestPlot: %v", err)
	}
	if res.WasFallback || res.FallbackReason != ReasonNone {
		t.Fatalf("empty context must not cause fallback: %+v", res)
	}
	wantStages := []Stage{StageRetrieving, StageAssembling, StageGenerating, StageParsing, StageSuccess, StageDone}
	if !reflect.DeepEqual(res.Stages, wantStages) {
		t.Fatalf("stages: %v", res.Stages)
	}
	plot := res.Plot
	if plot.ID != "plot-1" || plot.ProjectID != "p1" || plot.Source != entity.PlotSourceLLM || !plot.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected plot identity: %+v", plot)
	}
	if plot.Climax != "Lin relights the lamp" || plot.Resolution != defaultResolution {
		t.Fatalf("unexpected climax/resolution: %q / %q", plot.Climax, plot.Resolution)
	}
	total := 0
	for _, a := range plot.Acts {
		total += a.TargetLength
	}
	if total != 9000 {
		t.Fatalf("act lengths sum to %d", total)
	}
	if repo.count() != 1 {
		t.Fatalf("successful plot should be persisted, saved %d", repo.count())
	}
	if !strings.Contains(gen.lastRequest().Prompt, "Project context:\nnone") {
		t.Fatalf("prompt should mark missing context:\n%s", gen.lastRequest().Prompt)
	}
}

func TestRequestPlotInjectsRetrievedContext(t *testing.T) {
	r := &fakeRetriever{fn: func(_ context.Context, q retrieval.Query) ([]entity.RetrievalResult, error) {
		if q.ProjectID != "p1" || q.Text == "" {
			return nil, fmt.Errorf("unexpected query %+v", q)
		}
		return []entity.RetrievalResult{
			{EntityID: "c1", EntityType: entity.EntityTypeCharacter, Similarity: 0.9, Payload: entity.VectorMetadata{Title: "Lin", Text: "Keeper of the lighthouse"}},
		}, nil
	}}
	gen := respondWith(validPlot)
	p := newTestPipeline(r, gen, nil, nil, Config{})

	res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1", CharacterIDs: []string{"c1"}})
	if err != nil {
		t.Fatalf("RequestPlot: %v", err)
	}
	if !reflect.DeepEqual(res.References, []string{"c1"}) {
		t.Fatalf("references: %v", res.References)
	}
	req := gen.lastRequest()
	if !strings.Contains(req.Prompt, "## Characters") || !strings.Contains(req.Prompt, "Lin") {
		t.Fatalf("context missing from prompt:\n%s", req.Prompt)
	}
	if req.SystemPrompt == "" || req.Workflow != workflowPlot {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestRequestPlotFallsBackWhenUpstreamIsDown(t *testing.T) {
	var calls atomic.Int32
	provider := generation.ProviderFunc(func(context.Context, generation.Call) (*generation.Completion, error) {
		calls.Add(1)
		return nil, generation.NewStatusError(503, nil)
	})
	var slept []time.Duration
	client := generation.NewClient(provider, generation.ModelSelector{FastModel: "f", AdvancedModel: "a"}, generation.DefaultRetryPolicy(),
		generation.WithSleeper(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))
	repo := &fakePlotRepo{}
	p := newTestPipeline(emptyRetriever(), client, repo, nil, Config{Persist: true, GenerationDeadline: time.Second})

	start := time.Now()
	res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1", StructureType: entity.StructureFiveAct})
	if err != nil {
		t.Fatalf("RequestPlot must not fail on upstream outage: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("fallback exceeded the generation deadline")
	}
	if !res.WasFallback || res.FallbackReason != ReasonExhaustedRetries {
		t.Fatalf("expected exhausted_retries fallback, got %+v", res)
	}
	if calls.Load() != 3 || len(slept) != 2 {
		t.Fatalf("calls=%d sleeps=%v", calls.Load(), slept)
	}
	if res.Attempts != 3 {
		t.Fatalf("attempts: got %d, want 3", res.Attempts)
	}
	if res.Plot.Source != entity.PlotSourceTemplate || len(res.Plot.Acts) != 5 || res.Plot.ID == "" {
		t.Fatalf("unexpected fallback plot: %+v", res.Plot)
	}
	if res.Stages[len(res.Stages)-2] != StageFallingBack {
		t.Fatalf("stages: %v", res.Stages)
	}
	if repo.count() != 0 {
		t.Fatal("template plots are not persisted")
	}
}

func TestRequestPlotDeadlineDuringBackoffReportsAttempts(t *testing.T) {
	var calls atomic.Int32
	provider := generation.ProviderFunc(func(context.Context, generation.Call) (*generation.Completion, error) {
		calls.Add(1)
		return nil, generation.NewStatusError(503, nil)
	})
	client := generation.NewClient(provider, generation.ModelSelector{FastModel: "f", AdvancedModel: "a"}, generation.DefaultRetryPolicy(),
		generation.WithSleeper(func(ctx context.Context, _ time.Duration) error {
			<-ctx.Done()
			return ctx.Err()
		}))
	p := newTestPipeline(emptyRetriever(), client, nil, nil, Config{GenerationDeadline: 20 * time.Millisecond})

	res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("RequestPlot: %v", err)
	}
	if !res.WasFallback || res.FallbackReason != ReasonDeadline {
		t.Fatalf("expected deadline fallback, got %+v", res)
	}
	if calls.Load() != 1 || res.Attempts != 1 {
		t.Fatalf("calls=%d attempts=%d", calls.Load(), res.Attempts)
	}
}

func TestRequestPlotFallbackReasons(t *testing.T) {
	cases := []struct {
		name     string
		deadline time.Duration
		fn       func(ctx context.Context, req generation.Request) (*generation.Response, error)
		want     FallbackReason
	}{
		{
			name: "terminal client error",
			fn: func(context.Context, generation.Request) (*generation.Response, error) {
				return nil, generation.NewStatusError(400, nil)
			},
			want: upstreamReason(generation.KindClientError),
		},
		{
			name: "unparseable response",
			fn: func(context.Context, generation.Request) (*generation.Response, error) {
				return &generation.Response{Text: "I'd rather write a poem."}, nil
			},
			want: ReasonParseError,
		},
		{
			name: "empty acts",
			fn: func(context.Context, generation.Request) (*generation.Response, error) {
				return &generation.Response{Text: `{"acts":[]}`}, nil
			},
			want: ReasonParseError,
		},
		{
			name:     "deadline reached",
			deadline: 20 * time.Millisecond,
			fn: func(ctx context.Context, _ generation.Request) (*generation.Response, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			want: ReasonDeadline,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{fn: tc.fn}
			p := newTestPipeline(emptyRetriever(), gen, nil, nil, Config{GenerationDeadline: tc.deadline})

			res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1"})
			if err != nil {
				t.Fatalf("RequestPlot: %v", err)
			}
			if !res.WasFallback || res.FallbackReason != tc.want {
				t.Fatalf("reason: got %q, want %q", res.FallbackReason, tc.want)
			}
			if len(res.Plot.Acts) == 0 {
				t.Fatal("fallback plot has no acts")
			}
		})
	}
}

func TestRequestPlotCallerCancellationStillReturnsPlot(t *testing.T) {
	gen := &fakeGenerator{fn: func(ctx context.Context, _ generation.Request) (*generation.Response, error) {
		return nil, ctx.Err()
	}}
	p := newTestPipeline(emptyRetriever(), gen, nil, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := p.RequestPlot(ctx, PlotRequest{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("RequestPlot: %v", err)
	}
	if !res.WasFallback || res.FallbackReason != ReasonCanceled {
		t.Fatalf("expected canceled fallback, got %+v", res)
	}
}

func TestRequestPlotRetrievalFailureDegradesToEmptyContext(t *testing.T) {
	r := &fakeRetriever{fn: func(context.Context, retrieval.Query) ([]entity.RetrievalResult, error) {
		return nil, errors.New("vector store unavailable")
	}}
	p := newTestPipeline(r, respondWith(validPlot), nil, nil, Config{})

	res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("RequestPlot: %v", err)
	}
	if res.WasFallback || len(res.References) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRequestPlotSurfacesDimensionMismatch(t *testing.T) {
	r := &fakeRetriever{fn: func(context.Context, retrieval.Query) ([]entity.RetrievalResult, error) {
		return nil, fmt.Errorf("query: %w", &retrieval.DimensionMismatchError{Expected: 4, Got: 3})
	}}
	gen := respondWith(validPlot)
	p := newTestPipeline(r, gen, nil, nil, Config{})

	_, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1"})
	if !retrieval.IsDimensionMismatch(err) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if gen.calls.Load() != 0 {
		t.Fatal("generation must not run after a dimension mismatch")
	}
}

func TestRequestPlotPersistFailureIsNotSurfaced(t *testing.T) {
	repo := &fakePlotRepo{saveErr: errors.New("db down")}
	p := newTestPipeline(emptyRetriever(), respondWith(validPlot), repo, nil, Config{Persist: true})

	res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1"})
	if err != nil || res.WasFallback {
		t.Fatalf("persist failure leaked: res=%+v err=%v", res, err)
	}
}

func TestRequestPlotRejectsEmptyProject(t *testing.T) {
	p := newTestPipeline(emptyRetriever(), respondWith(validPlot), nil, nil, Config{})
	if _, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "  "}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRequestPlotConcurrentRequestsAreIndependent(t *testing.T) {
	gen := respondWith(validPlot)
	repo := &fakePlotRepo{}
	p := newTestPipeline(emptyRetriever(), gen, repo, nil, Config{Persist: true})

	const n = 16
	results := make([]*PlotResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := p.RequestPlot(context.Background(), PlotRequest{ProjectID: "p1", TargetLength: 1000 * (i + 1)})
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if gen.calls.Load() != n || repo.count() != n {
		t.Fatalf("calls=%d saved=%d, want %d each", gen.calls.Load(), repo.count(), n)
	}
	seen := make(map[string]bool)
	for i, res := range results {
		if res == nil {
			t.Fatalf("request %d returned nothing", i)
		}
		if seen[res.Plot.ID] {
			t.Fatalf("duplicate plot id %s", res.Plot.ID)
		}
		seen[res.Plot.ID] = true
		if res.Plot.TargetLength != 1000*(i+1) {
			t.Fatalf("request %d got another request's plot", i)
		}
	}
}

const validSuggestions = `{"suggestions":[{"id":"s1","type":"pacing","title":"Tighten act two","description":"Cut the second storm","priority":"high","target_act":2}]}`

func TestRequestSuggestionsCachesByFingerprint(t *testing.T) {
	cache := analysis.NewMemoryCache(func() time.Time { return fixedNow })
	gen := respondWith(validSuggestions)
	p := newTestPipeline(emptyRetriever(), gen, nil, cache, Config{SuggestionTTL: time.Hour})
	plot := GenerateTemplate(entity.StructureThreeAct, 1000)

	first, err := p.RequestSuggestions(context.Background(), "p1", plot)
	if err != nil {
		t.Fatalf("RequestSuggestions: %v", err)
	}
	if first.Cached || first.WasFallback || len(first.Suggestions) != 1 || first.AnalysisID == "" {
		t.Fatalf("unexpected first result: %+v", first)
	}
	if gen.lastRequest().Complexity != 0 || gen.lastRequest().Workflow != workflowSuggestions {
		t.Fatalf("suggestions should use the fast tier: %+v", gen.lastRequest())
	}

	second, err := p.RequestSuggestions(context.Background(), "p1", plot)
	if err != nil {
		t.Fatalf("RequestSuggestions: %v", err)
	}
	if !second.Cached || gen.calls.Load() != 1 {
		t.Fatalf("expected cache hit, cached=%v calls=%d", second.Cached, gen.calls.Load())
	}
	if !reflect.DeepEqual(first.Suggestions, second.Suggestions) {
		t.Fatal("cached suggestions differ")
	}

	changed := GenerateTemplate(entity.StructureFourAct, 1000)
	third, _ := p.RequestSuggestions(context.Background(), "p1", changed)
	if third.Cached || gen.calls.Load() != 2 {
		t.Fatalf("changed plot should regenerate, cached=%v calls=%d", third.Cached, gen.calls.Load())
	}
}

func TestRequestSuggestionsFallbackUsesShortTTL(t *testing.T) {
	cache := analysis.NewMemoryCache(func() time.Time { return fixedNow })
	gen := &fakeGenerator{fn: func(context.Context, generation.Request) (*generation.Response, error) {
		return nil, generation.NewStatusError(401, nil)
	}}
	p := newTestPipeline(emptyRetriever(), gen, nil, cache, Config{FallbackTTL: 5 * time.Minute})
	plot := GenerateTemplate(entity.StructureThreeAct, 1000)

	res, err := p.RequestSuggestions(context.Background(), "p1", plot)
	if err != nil {
		t.Fatalf("RequestSuggestions: %v", err)
	}
	if !res.WasFallback || !reflect.DeepEqual(res.Suggestions, TemplateSuggestions(plot)) {
		t.Fatalf("expected template suggestions, got %+v", res)
	}
	stored, _ := cache.GetLatest(context.Background(), "p1", entity.AnalysisKindSuggestions)
	if stored == nil || stored.Expiry.Sub(stored.AnalyzedAt) != 5*time.Minute {
		t.Fatalf("fallback should be cached with the short ttl: %+v", stored)
	}
}

func TestRequestSuggestionsLoadsLatestPlot(t *testing.T) {
	repo := &fakePlotRepo{}
	stored := GenerateTemplate(entity.StructureThreeAct, 1000)
	stored.ID, stored.ProjectID = "stored", "p1"
	_ = repo.Save(context.Background(), stored)

	gen := respondWith(validSuggestions)
	p := newTestPipeline(emptyRetriever(), gen, repo, nil, Config{})
	res, err := p.RequestSuggestions(context.Background(), "p1", nil)
	if err != nil || len(res.Suggestions) != 1 {
		t.Fatalf("RequestSuggestions: res=%+v err=%v", res, err)
	}

	if _, err := p.RequestSuggestions(context.Background(), "empty-project", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("project without plot should be invalid, got %v", err)
	}
}
