package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/interfaces/http/dto"
	apperrors "plot-rag-api/pkg/errors"
)

// AnalysisHandler 分析缓存查询处理器
type AnalysisHandler struct {
	cache analysis.Cache
}

// NewAnalysisHandler 创建分析缓存处理器
func NewAnalysisHandler(cache analysis.Cache) *AnalysisHandler {
	return &AnalysisHandler{cache: cache}
}

// GetLatest 获取最新未过期的分析结果
// @Summary 获取最新分析结果
// @Tags Analysis
// @Produce json
// @Param pid path string true "项目 ID"
// @Param kind query string false "分析类别" default(suggestions)
// @Success 200 {object} dto.Response[dto.AnalysisResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/analysis/latest [get]
func (h *AnalysisHandler) GetLatest(c *gin.Context) {
	if h.cache == nil {
		dto.ServiceUnavailable(c, "analysis cache is not configured")
		return
	}
	kind := entity.AnalysisKind(strings.TrimSpace(c.DefaultQuery("kind", string(entity.AnalysisKindSuggestions))))
	if kind != entity.AnalysisKindSuggestions {
		dto.AppError(c, apperrors.ErrInvalidParam.WithDetail("unsupported analysis kind: "+string(kind)))
		return
	}

	hit, err := h.cache.GetLatest(c.Request.Context(), dto.BindProjectID(c), kind)
	if err != nil {
		respondError(c, err)
		return
	}
	if hit == nil {
		dto.AppError(c, apperrors.ErrAnalysisNotFound)
		return
	}
	dto.Success(c, dto.ToAnalysisResponse(hit))
}
