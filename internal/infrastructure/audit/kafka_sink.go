// Package audit forwards and signs security events.
package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/secstate/internal/config"
	"github.com/turtacn/secstate/internal/domain/models"
	"github.com/turtacn/secstate/internal/domain/service"
	"github.com/turtacn/secstate/pkg/logger"
)

var _ service.EventSink = (*KafkaSink)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every security event to a Kafka topic, keyed by event type.
type KafkaSink struct {
	writer messageWriter
	logger logger.Logger
}

// NewKafkaSink creates a KafkaSink for cfg.
func NewKafkaSink(cfg config.KafkaConfig, log logger.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return newKafkaSink(writer, log)
}

func newKafkaSink(w messageWriter, log logger.Logger) *KafkaSink {
	return &KafkaSink{writer: w, logger: log.WithComponent("KafkaSink")}
}

// Publish implements service.EventSink.
func (s *KafkaSink) Publish(ctx context.Context, event models.SecurityEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		s.logger.Error(ctx, "failed to marshal security event", err)
		return err
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
	})
	if err != nil {
		s.logger.Error(ctx, "failed to write message to Kafka", err, logger.Fields{"event_type": string(event.Type)})
	}
	return err
}

// Close closes the underlying Kafka writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
