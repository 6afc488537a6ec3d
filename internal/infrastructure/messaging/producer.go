package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"plot-rag-api/pkg/logger"
	pkgtracer "plot-rag-api/pkg/tracer"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	if traceID := pkgtracer.TraceID(ctx); traceID != "" {
		msg.SetMetadata("trace_id", traceID)
	}
	if reqID, ok := ctx.Value(logger.RequestIDKey).(string); ok && reqID != "" {
		msg.SetMetadata("request_id", reqID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishVectorUpsert 发布实体索引任务
func (p *Producer) PublishVectorUpsert(ctx context.Context, m *VectorUpsertMessage) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeVectorUpsert, m.ProjectID, m)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("entity_id", m.EntityID)
	return p.Publish(ctx, StreamPlotIndex, msg)
}

// PublishVectorDelete 发布实体删除任务
func (p *Producer) PublishVectorDelete(ctx context.Context, m *VectorDeleteMessage) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeVectorDelete, m.ProjectID, m)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("entity_id", m.EntityID)
	return p.Publish(ctx, StreamPlotIndex, msg)
}

// PublishProjectPurge 发布项目清理任务
func (p *Producer) PublishProjectPurge(ctx context.Context, projectID string) (string, error) {
	msg, err := NewMessage(uuid.NewString(), TypeProjectPurge, projectID, &ProjectPurgeMessage{ProjectID: projectID})
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, StreamPlotIndex, msg)
}
