// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"plot-rag-api/internal/config"
	"plot-rag-api/internal/interfaces/http/handler"
	"plot-rag-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health   *handler.HealthHandler
	Plot     *handler.PlotHandler
	Analysis *handler.AnalysisHandler
	Vector   *handler.VectorHandler
	Project  *handler.ProjectHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
}

// New 创建新的路由器，limiter 为 nil 时不限流
func New(cfg *config.Config, handlers Handlers, limiter middleware.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) probePaths() []string {
	paths := []string{"/health", "/live", "/ready"}
	if r.cfg.Observability.Metrics.Enabled {
		paths = append(paths, r.metricsPath())
	}
	return paths
}

func (r *Router) metricsPath() string {
	if p := r.cfg.Observability.Metrics.Path; p != "" {
		return p
	}
	return "/metrics"
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, r.probePaths()...))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics(r.probePaths()...))
	}
}

func (r *Router) setupRoutes() {
	h := r.handlers

	if h.Health != nil {
		r.engine.GET("/health", h.Health.Health)
		r.engine.GET("/ready", h.Health.Ready)
		r.engine.GET("/live", h.Health.Live)
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.metricsPath(), gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	projects := v1.Group("/projects/:pid")
	projects.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Enabled:           r.cfg.Security.RateLimit.Enabled,
		RequestsPerMinute: r.cfg.Security.RateLimit.RequestsPerMinute,
	}, r.limiter))

	if h.Project != nil {
		projects.DELETE("", h.Project.DeleteProject)
	}

	if h.Plot != nil {
		projects.POST("/plots", h.Plot.CreatePlot)
		projects.GET("/plots", h.Plot.ListPlots)
		projects.GET("/plots/latest", h.Plot.GetLatestPlot)
		projects.POST("/suggestions", h.Plot.CreateSuggestions)
	}

	if h.Analysis != nil {
		projects.GET("/analysis/latest", h.Analysis.GetLatest)
	}

	if h.Vector != nil {
		projects.PUT("/vectors/:eid", h.Vector.UpsertVector)
		projects.DELETE("/vectors/:eid", h.Vector.DeleteVector)
	}
}
