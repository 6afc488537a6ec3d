package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/config"
	"plot-rag-api/internal/interfaces/http/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "plot-rag-api"
	cfg.App.Env = "test"
	cfg.Observability.Metrics.Enabled = true
	cfg.Observability.Metrics.Path = "/metrics"
	return cfg
}

func TestRoutesRegistered(t *testing.T) {
	cache := analysis.NewMemoryCache(time.Now)
	r := New(testConfig(), Handlers{
		Health:   handler.NewHealthHandler("test"),
		Analysis: handler.NewAnalysisHandler(cache),
	}, nil)

	routes := make(map[string]bool)
	for _, ri := range r.Engine().Routes() {
		routes[ri.Method+" "+ri.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"GET /ready",
		"GET /live",
		"GET /metrics",
		"GET /v1/projects/:pid/analysis/latest",
	} {
		if !routes[want] {
			t.Fatalf("route %s missing, have %v", want, routes)
		}
	}
	if routes["POST /v1/projects/:pid/plots"] {
		t.Fatal("plot routes registered without a handler")
	}

	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics endpoint: %d", w.Code)
	}
}

func TestProjectRoutesAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit.Enabled = true
	cfg.Security.RateLimit.RequestsPerMinute = 10

	r := New(cfg, Handlers{
		Health:   handler.NewHealthHandler("test"),
		Analysis: handler.NewAnalysisHandler(analysis.NewMemoryCache(time.Now)),
	}, denyAll{})

	w := httptest.NewRecorder()
	r.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/projects/p1/analysis/latest", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("probes must not be limited, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("request id middleware not installed")
	}
}
