package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-checkin/internal/logger"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	Writer MessageWriter
	Topic  string
	Logger *logger.Logger
}

// NewProducer writes to topic with key hashing so every message for a
// ticket lands on the same partition, in order.
func NewProducer(brokers []string, topic string, l *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Producer{Writer: writer, Topic: topic, Logger: l}
}

// Publish JSON encodes value and writes it under key.
func (p *Producer) Publish(ctx context.Context, key string, value any) error {
	msgBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode message for %s: %w", p.Topic, err)
	}

	p.Logger.Debug("KAFKA", fmt.Sprintf("Publishing to %s key=%s", p.Topic, key))

	if err := p.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: msgBytes,
	}); err != nil {
		p.Logger.LogKafka("PUBLISH_FAILED", p.Topic, fmt.Sprintf("key=%s: %v", key, err))
		return fmt.Errorf("publish to %s: %w", p.Topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	p.Logger.LogKafka("CLOSE", p.Topic, "flushing pending messages")
	return p.Writer.Close()
}
