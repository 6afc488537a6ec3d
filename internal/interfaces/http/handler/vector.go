package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/infrastructure/messaging"
	"plot-rag-api/internal/interfaces/http/dto"
	apperrors "plot-rag-api/pkg/errors"
)

// IndexService 同步索引端口，由 retrieval.Indexer 实现
type IndexService interface {
	IndexEntity(ctx context.Context, doc *entity.IndexDocument) error
	RemoveEntity(ctx context.Context, projectID, entityID string) error
}

var _ IndexService = (*retrieval.Indexer)(nil)

// IndexPublisher 异步索引端口，由 messaging.Producer 实现
type IndexPublisher interface {
	PublishVectorUpsert(ctx context.Context, m *messaging.VectorUpsertMessage) (string, error)
	PublishVectorDelete(ctx context.Context, m *messaging.VectorDeleteMessage) (string, error)
}

var _ IndexPublisher = (*messaging.Producer)(nil)

// VectorHandler 实体向量处理器
type VectorHandler struct {
	indexer   IndexService
	publisher IndexPublisher
	now       func() time.Time
}

// NewVectorHandler 创建向量处理器，publisher 为 nil 时不支持异步
func NewVectorHandler(indexer IndexService, publisher IndexPublisher) *VectorHandler {
	return &VectorHandler{
		indexer:   indexer,
		publisher: publisher,
		now:       time.Now,
	}
}

// UpsertVector 索引或更新实体
// @Summary 索引实体
// @Tags Vectors
// @Accept json
// @Produce json
// @Param pid path string true "项目 ID"
// @Param eid path string true "实体 ID"
// @Param body body dto.UpsertVectorRequest true "实体内容"
// @Success 200 {object} dto.Response[dto.VectorResponse]
// @Success 202 {object} dto.Response[dto.VectorResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/projects/{pid}/vectors/{eid} [put]
func (h *VectorHandler) UpsertVector(c *gin.Context) {
	var req dto.UpsertVectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if !entity.EntityType(req.EntityType).IsValid() {
		dto.AppError(c, apperrors.ErrInvalidParam.WithDetail("unsupported entity_type: "+req.EntityType))
		return
	}

	projectID, entityID := dto.BindProjectID(c), dto.BindEntityID(c)
	doc := req.ToDocument(projectID, entityID, h.now())
	resp := &dto.VectorResponse{ProjectID: projectID, EntityID: entityID}

	if req.Async {
		if h.publisher == nil {
			dto.ServiceUnavailable(c, "async indexing is not configured")
			return
		}
		id, err := h.publisher.PublishVectorUpsert(c.Request.Context(), &messaging.VectorUpsertMessage{
			ProjectID:  doc.ProjectID,
			EntityID:   doc.EntityID,
			EntityType: string(doc.EntityType),
			Title:      doc.Title,
			Text:       doc.Text,
			Attributes: doc.Attributes,
			UpdatedAt:  doc.UpdatedAt,
		})
		if err != nil {
			respondError(c, apperrors.Wrap(err, apperrors.CodeMessagingError, "failed to queue index request"))
			return
		}
		resp.Queued, resp.MessageID = true, id
		dto.Accepted(c, resp)
		return
	}

	if h.indexer == nil {
		respondError(c, retrieval.ErrVectorDisabled)
		return
	}
	if err := h.indexer.IndexEntity(c.Request.Context(), doc); err != nil {
		respondError(c, err)
		return
	}
	resp.Indexed = true
	dto.Success(c, resp)
}

// DeleteVector 删除实体向量
// @Summary 删除实体向量
// @Tags Vectors
// @Produce json
// @Param pid path string true "项目 ID"
// @Param eid path string true "实体 ID"
// @Param async query bool false "异步删除"
// @Success 204
// @Success 202 {object} dto.Response[dto.VectorResponse]
// @Router /v1/projects/{pid}/vectors/{eid} [delete]
func (h *VectorHandler) DeleteVector(c *gin.Context) {
	projectID, entityID := dto.BindProjectID(c), dto.BindEntityID(c)
	async, _ := strconv.ParseBool(c.Query("async"))

	if async {
		if h.publisher == nil {
			dto.ServiceUnavailable(c, "async indexing is not configured")
			return
		}
		id, err := h.publisher.PublishVectorDelete(c.Request.Context(), &messaging.VectorDeleteMessage{
			ProjectID: projectID,
			EntityID:  entityID,
		})
		if err != nil {
			respondError(c, apperrors.Wrap(err, apperrors.CodeMessagingError, "failed to queue delete request"))
			return
		}
		dto.Accepted(c, &dto.VectorResponse{ProjectID: projectID, EntityID: entityID, Queued: true, MessageID: id})
		return
	}

	if h.indexer == nil {
		respondError(c, retrieval.ErrVectorDisabled)
		return
	}
	if err := h.indexer.RemoveEntity(c.Request.Context(), projectID, entityID); err != nil {
		respondError(c, err)
		return
	}
	dto.NoContent(c)
}
