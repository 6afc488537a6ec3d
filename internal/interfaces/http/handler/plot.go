package handler

import (
	"context"
	"errors"
	"io"

	"github.com/gin-gonic/gin"

	"plot-rag-api/internal/application/plot"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/domain/repository"
	"plot-rag-api/internal/interfaces/http/dto"
	apperrors "plot-rag-api/pkg/errors"
)

// PlotService 剧情流水线端口，由 plot.Pipeline 实现
type PlotService interface {
	RequestPlot(ctx context.Context, req plot.PlotRequest) (*plot.PlotResult, error)
	RequestSuggestions(ctx context.Context, projectID string, existing *entity.PlotStructure) (*plot.SuggestionResult, error)
}

var _ PlotService = (*plot.Pipeline)(nil)

// PlotHandler 剧情处理器
type PlotHandler struct {
	svc   PlotService
	plots repository.PlotRepository
}

// NewPlotHandler 创建剧情处理器，plots 为 nil 时查询接口返回 503
func NewPlotHandler(svc PlotService, plots repository.PlotRepository) *PlotHandler {
	return &PlotHandler{
		svc:   svc,
		plots: plots,
	}
}

// CreatePlot 生成剧情结构
// @Summary 生成剧情结构
// @Description 检索项目上下文并调用 LLM 生成剧情，上游不可用时返回模板剧情
// @Tags Plots
// @Accept json
// @Produce json
// @Param pid path string true "项目 ID"
// @Param body body dto.CreatePlotRequest false "生成参数"
// @Success 201 {object} dto.Response[dto.PlotResultResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/plots [post]
func (h *PlotHandler) CreatePlot(c *gin.Context) {
	var req dto.CreatePlotRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	res, err := h.svc.RequestPlot(c.Request.Context(), req.ToPlotRequest(dto.BindProjectID(c)))
	if err != nil {
		respondError(c, err)
		return
	}
	dto.Created(c, dto.ToPlotResultResponse(res))
}

// GetLatestPlot 获取项目最新剧情
// @Summary 获取最新剧情
// @Tags Plots
// @Produce json
// @Param pid path string true "项目 ID"
// @Success 200 {object} dto.Response[dto.PlotResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/plots/latest [get]
func (h *PlotHandler) GetLatestPlot(c *gin.Context) {
	if h.plots == nil {
		dto.ServiceUnavailable(c, "plot storage is not configured")
		return
	}
	latest, err := h.plots.GetLatest(c.Request.Context(), dto.BindProjectID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if latest == nil {
		dto.AppError(c, apperrors.ErrPlotNotFound)
		return
	}
	dto.Success(c, dto.ToPlotResponse(latest))
}

// ListPlots 获取项目剧情列表
// @Summary 获取剧情列表
// @Tags Plots
// @Produce json
// @Param pid path string true "项目 ID"
// @Param structure_type query string false "结构类型"
// @Param source query string false "来源 llm/template"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[dto.PlotListResponse]
// @Router /v1/projects/{pid}/plots [get]
func (h *PlotHandler) ListPlots(c *gin.Context) {
	if h.plots == nil {
		dto.ServiceUnavailable(c, "plot storage is not configured")
		return
	}
	pageReq := dto.BindPage(c)
	filter := &repository.PlotFilter{
		StructureType: entity.StructureType(c.Query("structure_type")),
		Source:        entity.PlotSource(c.Query("source")),
	}

	result, err := h.plots.ListByProject(c.Request.Context(), dto.BindProjectID(c), filter,
		repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		respondError(c, err)
		return
	}

	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, dto.ToPlotListResponse(result.Items), meta)
}

// CreateSuggestions 获取剧情改进建议
// @Summary 获取剧情建议
// @Description 对提交的剧情或项目最新剧情生成建议，内容未变化时返回缓存
// @Tags Plots
// @Accept json
// @Produce json
// @Param pid path string true "项目 ID"
// @Param body body dto.SuggestionRequest false "剧情"
// @Success 200 {object} dto.Response[dto.SuggestionResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/suggestions [post]
func (h *PlotHandler) CreateSuggestions(c *gin.Context) {
	var req dto.SuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	projectID := dto.BindProjectID(c)
	res, err := h.svc.RequestSuggestions(c.Request.Context(), projectID, req.Plot.ToEntity(projectID))
	if err != nil {
		respondError(c, err)
		return
	}
	dto.Success(c, dto.ToSuggestionResponse(res))
}
