package kafka

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one message value.
type MessageHandler interface {
	Handle(ctx context.Context, value []byte) error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads a topic as part of a consumer group and hands every message
// to a MessageHandler. Offsets are committed on read, so a handler error is
// logged and the message is not retried.
type Consumer struct {
	reader  messageReader
	handler MessageHandler
	logger  *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, handler MessageHandler, logger *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1e3, // 1KB
		MaxBytes: 1e6, // 1MB
	})
	return &Consumer{
		reader:  r,
		handler: handler,
		logger:  logger.With(zap.String("topic", topic)),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("Kafka consumer started")
	defer c.reader.Close()

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				c.logger.Info("Kafka consumer stopped")
				return
			}
			c.logger.Error("Failed to read message", zap.Error(err))
			continue
		}
		if err := c.handler.Handle(ctx, m.Value); err != nil {
			c.logger.Warn("Message handling failed",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}
}
