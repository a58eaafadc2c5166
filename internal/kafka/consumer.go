package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads audit entries back off the audit topic.
type Consumer struct {
	reader MessageReader
	logger *logger.Logger
}

// NewConsumer creates a new Kafka consumer for the given topic and group
func NewConsumer(brokers []string, topic, groupID string, l *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return NewConsumerWithReader(reader, l)
}

func NewConsumerWithReader(reader MessageReader, l *logger.Logger) *Consumer {
	return &Consumer{reader: reader, logger: l}
}

// Start feeds decoded entries to handler until ctx is cancelled. Messages
// that do not decode are logged and skipped. A handler error stops the loop.
func (c *Consumer) Start(ctx context.Context, handler func(context.Context, models.CheckInLogEntry) error) error {
	c.logger.Info("KAFKA", "Audit consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			return err
		}

		var entry models.CheckInLogEntry
		if err := json.Unmarshal(msg.Value, &entry); err != nil {
			c.logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message at offset %d: %v", msg.Offset, err))
			continue
		}

		if err := handler(ctx, entry); err != nil {
			return fmt.Errorf("handle audit entry %s: %w", entry.ID, err)
		}
	}
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
