package kafka

import (
	"context"
	"log/slog"
	"time"

	"github.com/bizrank/bizrank/pkg/config"
	"github.com/segmentio/kafka-go"
)

// MessageHandler is a callback invoked for each Kafka message. Returning an
// error makes the consumer retry the same message after a delay; the group
// offset never advances past a message whose handler has not succeeded.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// messageReader is the slice of kafka.Reader the consume loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	handler    MessageHandler
	retryDelay time.Duration
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{
		reader:     r,
		logger:     slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler:    handler,
		retryDelay: 5 * time.Second,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return c.reader.Close()
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			continue
		}
		// Retry the same message until the handler succeeds. Skipping to
		// the next fetch would let its commit advance the group offset
		// past the failed message, losing it.
		for {
			err := c.handler(ctx, msg.Key, msg.Value)
			if err == nil {
				break
			}
			c.logger.Error("failed to process message, retrying",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			select {
			case <-ctx.Done():
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return c.reader.Close()
			case <-time.After(c.retryDelay):
			}
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
