// Package bus publishes domain events to Kafka. Publication is best-effort
// and fire-and-forget: a failed write is logged and dropped, never surfaced
// to the command that triggered it.
package bus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mahaj/chatcore/pkg/metrics"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaEmitter struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaEmitter(brokers []string, logger *zap.Logger) *KafkaEmitter {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &KafkaEmitter{writer: writer, logger: logger}
}

func (e *KafkaEmitter) Publish(ctx context.Context, topic string, payload any) {
	value, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("event payload not serializable", zap.String("topic", topic), zap.Error(err))
		metrics.EventsDropped.WithLabelValues(topic).Inc()
		return
	}

	err = e.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		e.logger.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
		metrics.EventsDropped.WithLabelValues(topic).Inc()
		return
	}
	metrics.EventsPublished.WithLabelValues(topic).Inc()
}

func (e *KafkaEmitter) Close() error {
	if w, ok := e.writer.(*kafka.Writer); ok {
		return w.Close()
	}
	return nil
}
