package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"plot-rag-api/internal/application/project"
	"plot-rag-api/internal/interfaces/http/dto"
)

// ProjectPurger 项目清理端口，由 project.Purger 实现
type ProjectPurger interface {
	Purge(ctx context.Context, projectID string, async bool) (*project.PurgeResult, error)
}

var _ ProjectPurger = (*project.Purger)(nil)

// ProjectHandler 项目处理器
type ProjectHandler struct {
	purger ProjectPurger
}

// NewProjectHandler 创建项目处理器
func NewProjectHandler(purger ProjectPurger) *ProjectHandler {
	return &ProjectHandler{purger: purger}
}

// DeleteProject 清理项目的剧情、分析缓存与向量
// @Summary 清理项目
// @Tags Projects
// @Produce json
// @Param pid path string true "项目 ID"
// @Param async query bool false "向量异步删除"
// @Success 200 {object} dto.Response[dto.PurgeResponse]
// @Router /v1/projects/{pid} [delete]
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	async, _ := strconv.ParseBool(c.Query("async"))

	res, err := h.purger.Purge(c.Request.Context(), dto.BindProjectID(c), async)
	if err != nil {
		respondError(c, err)
		return
	}
	dto.Success(c, &dto.PurgeResponse{
		ProjectID:       res.ProjectID,
		PlotsDeleted:    res.PlotsDeleted,
		AnalysesDeleted: res.AnalysesDeleted,
		VectorsDeleted:  res.VectorsDeleted,
		VectorsQueued:   res.VectorsQueued,
	})
}
