// Package worker 将索引流消息分派到 Indexer
package worker

import (
	"context"
	"errors"
	"fmt"

	"plot-rag-api/internal/application/retrieval"
	"plot-rag-api/internal/domain/entity"
	"plot-rag-api/internal/infrastructure/messaging"
	"plot-rag-api/pkg/logger"
)

// IndexService 索引写入端口，由 retrieval.Indexer 实现
type IndexService interface {
	IndexEntity(ctx context.Context, doc *entity.IndexDocument) error
	RemoveEntity(ctx context.Context, projectID, entityID string) error
	RemoveProject(ctx context.Context, projectID string) error
}

var _ IndexService = (*retrieval.Indexer)(nil)

// Registrar 消息处理器注册表
type Registrar interface {
	RegisterHandler(msgType string, handler messaging.MessageHandler)
}

var _ Registrar = (*messaging.Consumer)(nil)

// RegisterIndexHandlers 注册 upsert/delete/purge 三类处理器
func RegisterIndexHandlers(r Registrar, svc IndexService) {
	r.RegisterHandler(messaging.TypeVectorUpsert, func(ctx context.Context, msg *messaging.Message) error {
		var m messaging.VectorUpsertMessage
		if err := msg.UnmarshalPayload(&m); err != nil {
			return permanent(ctx, msg, fmt.Errorf("decode upsert payload: %w", err))
		}
		err := svc.IndexEntity(ctx, &entity.IndexDocument{
			EntityID:   m.EntityID,
			ProjectID:  m.ProjectID,
			EntityType: entity.EntityType(m.EntityType),
			Title:      m.Title,
			Text:       m.Text,
			Attributes: m.Attributes,
			UpdatedAt:  m.UpdatedAt,
		})
		if isPermanent(err) {
			return permanent(ctx, msg, err)
		}
		return err
	})

	r.RegisterHandler(messaging.TypeVectorDelete, func(ctx context.Context, msg *messaging.Message) error {
		var m messaging.VectorDeleteMessage
		if err := msg.UnmarshalPayload(&m); err != nil {
			return permanent(ctx, msg, fmt.Errorf("decode delete payload: %w", err))
		}
		return svc.RemoveEntity(ctx, m.ProjectID, m.EntityID)
	})

	r.RegisterHandler(messaging.TypeProjectPurge, func(ctx context.Context, msg *messaging.Message) error {
		var m messaging.ProjectPurgeMessage
		if err := msg.UnmarshalPayload(&m); err != nil {
			return permanent(ctx, msg, fmt.Errorf("decode purge payload: %w", err))
		}
		return svc.RemoveProject(ctx, m.ProjectID)
	})
}

// isPermanent 重试无法修复的错误
func isPermanent(err error) bool {
	return errors.Is(err, retrieval.ErrInvalidVector) ||
		errors.Is(err, retrieval.ErrZeroVector) ||
		errors.Is(err, retrieval.ErrVectorDisabled) ||
		retrieval.IsDimensionMismatch(err)
}

// permanent 记录并丢弃消息
func permanent(ctx context.Context, msg *messaging.Message, err error) error {
	logger.Warn(ctx, "dropping index message", "message_id", msg.ID, "type", msg.Type, "error", err.Error())
	return nil
}
