// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"plot-rag-api/internal/application/analysis"
	"plot-rag-api/internal/application/plot"
	"plot-rag-api/internal/application/project"
	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/interfaces/http/dto"
	apperrors "plot-rag-api/pkg/errors"
	"plot-rag-api/pkg/logger"
)

// toAppError 将领域错误映射为业务错误码
func toAppError(err error) *apperrors.AppError {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, plot.ErrInvalidRequest),
		errors.Is(err, project.ErrProjectRequired),
		errors.Is(err, analysis.ErrProjectRequired),
		errors.Is(err, retrieval.ErrInvalidVector),
		errors.Is(err, retrieval.ErrZeroVector):
		return apperrors.ErrInvalidParam.WithDetail(err.Error()).WithError(err)
	case retrieval.IsDimensionMismatch(err):
		return apperrors.ErrDimensionMismatch.WithDetail(err.Error()).WithError(err)
	case errors.Is(err, retrieval.ErrVectorDisabled):
		return apperrors.ErrServiceUnavailable.WithDetail("vector retrieval is disabled").WithError(err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperrors.ErrServiceUnavailable.WithDetail(err.Error()).WithError(err)
	default:
		return apperrors.ErrInternalError.WithError(err)
	}
}

// respondError 输出错误响应，服务端错误记录日志
func respondError(c *gin.Context, err error) {
	appErr := toAppError(err)
	if appErr.HTTPStatus >= 500 {
		logger.Error(c.Request.Context(), "request failed", err,
			"path", c.FullPath(),
			"code", string(appErr.Code),
		)
	}
	dto.AppError(c, appErr)
}
