// internal/pkg/mq/kafka.go
package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// KafkaHeaderCarrier 让 kafka 消息头可以作为 otel 的 TextMapCarrier 使用。
type KafkaHeaderCarrier []kafka.Header

func (c KafkaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Set 只能作用于指针上，见 headerWriter。
func (c KafkaHeaderCarrier) Set(string, string) {}

func (c KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		keys = append(keys, h.Key)
	}
	return keys
}

type headerWriter struct{ headers *[]kafka.Header }

func (w headerWriter) Get(key string) string { return KafkaHeaderCarrier(*w.headers).Get(key) }
func (w headerWriter) Keys() []string        { return KafkaHeaderCarrier(*w.headers).Keys() }
func (w headerWriter) Set(key, value string) {
	for i, h := range *w.headers {
		if h.Key == key {
			(*w.headers)[i].Value = []byte(value)
			return
		}
	}
	*w.headers = append(*w.headers, kafka.Header{Key: key, Value: []byte(value)})
}

// InjectTraceContext 把当前 trace 上下文写入消息头。
func InjectTraceContext(ctx context.Context, headers *[]kafka.Header) {
	otel.GetTextMapPropagator().Inject(ctx, headerWriter{headers: headers})
}

// ExtractTraceContext 从消息头恢复上游的 trace 上下文。
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, KafkaHeaderCarrier(headers))
}

var _ propagation.TextMapCarrier = KafkaHeaderCarrier(nil)

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// ProduceMessage 在一个 producer span 中发送消息，并自动注入追踪上下文。
func ProduceMessage(ctx context.Context, writer *kafka.Writer, key, value []byte) error {
	ctx, span := otel.Tracer("storefront/mq").Start(ctx, "kafka.produce "+writer.Topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", writer.Topic),
		))
	defer span.End()

	msg := kafka.Message{Key: key, Value: value}
	InjectTraceContext(ctx, &msg.Headers)

	if err := writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write message to %s: %w", writer.Topic, err)
	}
	return nil
}
