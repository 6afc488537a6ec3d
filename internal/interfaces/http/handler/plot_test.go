package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"plot-rag-api/internal/application/plot"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/domain/repository"
	"plot-rag-api/internal/interfaces/http/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePlotService struct {
	plotFn        func(ctx context.Context, req plot.PlotRequest) (*plot.PlotResult, error)
	suggestionsFn func(ctx context.Context, projectID string, existing *entity.PlotStructure) (*plot.SuggestionResult, error)
}

func (f *fakePlotService) RequestPlot(ctx context.Context, req plot.PlotRequest) (*plot.PlotResult, error) {
	return f.plotFn(ctx, req)
}

func (f *fakePlotService) RequestSuggestions(ctx context.Context, projectID string, existing *entity.PlotStructure) (*plot.SuggestionResult, error) {
	return f.suggestionsFn(ctx, projectID, existing)
}

type fakePlotStore struct {
	repository.PlotRepository
	latest *entity.PlotStructure
	list   []*entity.PlotStructure
	filter *repository.PlotFilter
}

func (f *fakePlotStore) GetLatest(_ context.Context, projectID string) (*entity.PlotStructure, error) {
	if f.latest == nil || f.latest.ProjectID != projectID {
		return nil, nil
	}
	return f.latest, nil
}

func (f *fakePlotStore) ListByProject(_ context.Context, _ string, filter *repository.PlotFilter, pg repository.Pagination) (*repository.PagedResult[*entity.PlotStructure], error) {
	f.filter = filter
	return repository.NewPagedResult(f.list, int64(len(f.list)), pg), nil
}

func storedPlot(projectID string) *entity.PlotStructure {
	p := plot.GenerateTemplate(entity.StructureThreeAct, 3000)
	p.ID, p.ProjectID = "plot-1", projectID
	p.CreatedAt = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	return p
}

func newPlotRouter(h *PlotHandler) *gin.Engine {
	r := gin.New()
	g := r.Group("/v1/projects/:pid")
	g.POST("/plots", h.CreatePlot)
	g.GET("/plots", h.ListPlots)
	g.GET("/plots/latest", h.GetLatestPlot)
	g.POST("/suggestions", h.CreateSuggestions)
	return r
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) dto.Response[T] {
	t.Helper()
	var resp dto.Response[T]
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return resp
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestCreatePlot(t *testing.T) {
	var got plot.PlotRequest
	svc := &fakePlotService{plotFn: func(_ context.Context, req plot.PlotRequest) (*plot.PlotResult, error) {
		got = req
		return &plot.PlotResult{
			Plot:           storedPlot(req.ProjectID),
			WasFallback:    true,
			FallbackReason: plot.ReasonExhaustedRetries,
			Stages:         []plot.Stage{plot.StageFallingBack, plot.StageDone},
		}, nil
	}}
	r := newPlotRouter(NewPlotHandler(svc, nil))

	w := doJSON(r, http.MethodPost, "/v1/projects/p1/plots", map[string]any{
		"structure_type": "five_act",
		"target_length":  3000,
		"character_ids":  []string{" c1 ", ""},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got.ProjectID != "p1" || got.StructureType != entity.StructureFiveAct || len(got.CharacterIDs) != 1 || got.CharacterIDs[0] != "c1" {
		t.Fatalf("unexpected pipeline request: %+v", got)
	}
	resp := decode[dto.PlotResultResponse](t, w)
	if !resp.Data.WasFallback || resp.Data.FallbackReason != string(plot.ReasonExhaustedRetries) {
		t.Fatalf("fallback not surfaced: %+v", resp.Data)
	}
	if resp.Data.Plot == nil || len(resp.Data.Plot.Acts) != 3 || resp.Data.References == nil {
		t.Fatalf("unexpected plot: %+v", resp.Data)
	}
}

func TestCreatePlotAcceptsEmptyBody(t *testing.T) {
	svc := &fakePlotService{plotFn: func(_ context.Context, req plot.PlotRequest) (*plot.PlotResult, error) {
		return &plot.PlotResult{Plot: storedPlot(req.ProjectID)}, nil
	}}
	r := newPlotRouter(NewPlotHandler(svc, nil))

	req := httptest.NewRequest(http.MethodPost, "/v1/projects/p1/plots", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
}

func TestCreatePlotErrors(t *testing.T) {
	cases := []struct {
		name     string
		body     any
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "negative length", body: map[string]any{"target_length": -1}, wantCode: http.StatusBadRequest},
		{name: "invalid request", body: map[string]any{}, err: fmt.Errorf("%w: project_id is required", plot.ErrInvalidRequest), wantCode: http.StatusBadRequest, wantErr: "1001"},
		{name: "dimension mismatch", body: map[string]any{}, err: &retrieval.DimensionMismatchError{Expected: 4, Got: 3}, wantCode: http.StatusBadRequest, wantErr: "4007"},
		{name: "unexpected", body: map[string]any{}, err: fmt.Errorf("boom"), wantCode: http.StatusInternalServerError, wantErr: "1007"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakePlotService{plotFn: func(context.Context, plot.PlotRequest) (*plot.PlotResult, error) {
				return nil, tc.err
			}}
			w := doJSON(newPlotRouter(NewPlotHandler(svc, nil)), http.MethodPost, "/v1/projects/p1/plots", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("status %d, want %d: %s", w.Code, tc.wantCode, w.Body.String())
			}
			if tc.wantErr != "" {
				if resp := decodeError(t, w); resp.Error == nil || resp.Error.ErrorCode != tc.wantErr {
					t.Fatalf("error code: %+v", resp.Error)
				}
			}
		})
	}
}

func TestGetLatestPlot(t *testing.T) {
	store := &fakePlotStore{latest: storedPlot("p1")}
	r := newPlotRouter(NewPlotHandler(&fakePlotService{}, store))

	w := doJSON(r, http.MethodGet, "/v1/projects/p1/plots/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if resp := decode[dto.PlotResponse](t, w); resp.Data.ID != "plot-1" || resp.Data.CreatedAt != "2026-05-04T10:00:00Z" {
		t.Fatalf("unexpected plot: %+v", resp.Data)
	}

	w = doJSON(r, http.MethodGet, "/v1/projects/p2/plots/latest", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing plot should be 404, got %d", w.Code)
	}

	w = doJSON(newPlotRouter(NewPlotHandler(&fakePlotService{}, nil)), http.MethodGet, "/v1/projects/p1/plots/latest", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured storage should be 503, got %d", w.Code)
	}
}

func TestListPlots(t *testing.T) {
	store := &fakePlotStore{list: []*entity.PlotStructure{storedPlot("p1"), storedPlot("p1")}}
	r := newPlotRouter(NewPlotHandler(&fakePlotService{}, store))

	w := doJSON(r, http.MethodGet, "/v1/projects/p1/plots?source=llm&page_size=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	resp := decode[dto.PlotListResponse](t, w)
	if len(resp.Data.Plots) != 2 || resp.Meta == nil || resp.Meta.Total != 2 || resp.Meta.TotalPages != 2 {
		t.Fatalf("unexpected list: %+v meta=%+v", resp.Data, resp.Meta)
	}
	if store.filter == nil || store.filter.Source != entity.PlotSourceLLM {
		t.Fatalf("filter not passed: %+v", store.filter)
	}
}

func TestCreateSuggestions(t *testing.T) {
	var gotPlot *entity.PlotStructure
	svc := &fakePlotService{suggestionsFn: func(_ context.Context, projectID string, existing *entity.PlotStructure) (*plot.SuggestionResult, error) {
		gotPlot = existing
		return &plot.SuggestionResult{
			Suggestions: plot.TemplateSuggestions(existing),
			Cached:      true,
			AnalysisID:  "p1:1",
		}, nil
	}}
	r := newPlotRouter(NewPlotHandler(svc, nil))

	w := doJSON(r, http.MethodPost, "/v1/projects/p1/suggestions", map[string]any{
		"plot": map[string]any{
			"structure_type": "hero_journey",
			"acts":           []map[string]any{{"title": "Departure", "start_percent": 0, "end_percent": 100}},
			"climax":         "The ordeal",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if gotPlot == nil || gotPlot.ProjectID != "p1" || gotPlot.StructureType != entity.StructureHeroJourney || gotPlot.Acts[0].Index != 1 {
		t.Fatalf("unexpected plot: %+v", gotPlot)
	}
	resp := decode[dto.SuggestionResponse](t, w)
	if !resp.Data.Cached || len(resp.Data.Suggestions) != 2 || resp.Data.AnalysisID != "p1:1" {
		t.Fatalf("unexpected response: %+v", resp.Data)
	}
}

func TestCreateSuggestionsWithoutPlotUsesLatest(t *testing.T) {
	called := false
	svc := &fakePlotService{suggestionsFn: func(_ context.Context, _ string, existing *entity.PlotStructure) (*plot.SuggestionResult, error) {
		called = true
		if existing != nil {
			t.Errorf("expected nil plot, got %+v", existing)
		}
		return nil, fmt.Errorf("%w: project has no plot", plot.ErrInvalidRequest)
	}}
	w := doJSON(newPlotRouter(NewPlotHandler(svc, nil)), http.MethodPost, "/v1/projects/p1/suggestions", nil)
	if !called || w.Code != http.StatusBadRequest {
		t.Fatalf("called=%v status=%d", called, w.Code)
	}
}
