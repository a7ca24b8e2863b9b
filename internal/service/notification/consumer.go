// internal/service/notification/consumer.go
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/mq"
	"storefront/internal/service/shop/domain"
)

const (
	sendAttempts = 3
	fetchBackoff = 5 * time.Second
)

// MessageReader 是 *kafka.Reader 中消费者用到的部分。
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Processor 把 Kafka 中的邮件任务交给 Sender 投递。
type Processor struct {
	sender  Sender
	tracer  trace.Tracer
	backoff time.Duration
}

func NewProcessor(sender Sender, tracer trace.Tracer) *Processor {
	return &Processor{sender: sender, tracer: tracer, backoff: time.Second}
}

// Process 处理从 Kafka 收到的单条消息。消息体损坏时直接返回错误，不重试。
func (p *Processor) Process(ctx context.Context, msg kafka.Message) error {
	// 从消息头中恢复上游的追踪上下文
	ctx = mq.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := p.tracer.Start(ctx, "notification-service.ProcessEmail",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
			attribute.String("messaging.kafka.message.key", string(msg.Key)),
		))
	defer span.End()
	ctx = logger.WithTrace(ctx)

	var email domain.EmailEvent
	if err := json.Unmarshal(msg.Value, &email); err != nil {
		return fail(span, errors.Wrap(err, "unmarshal email event"))
	}
	if email.To == "" {
		return fail(span, errors.New("email event has no recipient"))
	}
	span.SetAttributes(attribute.String("tenant.id", email.TenantID), attribute.String("order.id", email.OrderID))

	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = p.sender.Send(ctx, email); err == nil {
			span.AddEvent("email sent")
			return nil
		}
		logger.Ctx(ctx).Warn().Err(err).Int("attempt", attempt).Str("order", email.OrderID).Msg("email send failed")
		if attempt < sendAttempts {
			select {
			case <-time.After(p.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return fail(span, ctx.Err())
			}
		}
	}
	return fail(span, err)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Run 循环消费直到 ctx 结束。处理失败的消息记日志后照常提交，避免阻塞分区。
func (p *Processor) Run(ctx context.Context, reader MessageReader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zlog.Error().Err(err).Msg("could not read message, retrying")
			select {
			case <-time.After(fetchBackoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}

		if err := p.Process(ctx, msg); err != nil {
			zlog.Error().Err(err).Int64("offset", msg.Offset).Str("key", string(msg.Key)).Msg("dropping email message")
		}
		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			zlog.Error().Err(err).Int64("offset", msg.Offset).Msg("commit failed")
		}
	}
}
