package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auto-market-engine/internal/models"
	"auto-market-engine/internal/util"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Header names carried on every engine message.
const (
	HeaderEventType = "event-type"
	HeaderEventID   = "event-id"
)

// enveloped is satisfied by every models event through the embedded BaseEvent.
type enveloped interface {
	Base() models.BaseEvent
}

// Producer writes engine events to one topic.
type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer returns a producer for topic. Messages are hashed by key so all
// events of one dealer or offer keep their order.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            5,
			BatchTimeout:           50 * time.Millisecond,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		logger: util.ComponentLogger("producer").With(zap.String("topic", topic)),
	}
}

// PublishEvent marshals event and writes it under key.
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	ctx, span := util.StartSpan(ctx, "Producer.PublishEvent",
		attribute.String("messaging.destination", p.writer.Topic),
		attribute.String("messaging.key", key),
	)
	defer span.End()

	value, err := json.Marshal(event)
	if err != nil {
		return util.RecordError(span, fmt.Errorf("failed to marshal event: %w", err))
	}

	msg := kafka.Message{Key: []byte(key), Value: value, Time: time.Now()}
	eventType := "unknown"
	if e, ok := event.(enveloped); ok {
		base := e.Base()
		eventType = base.EventType
		msg.Headers = []kafka.Header{
			{Key: HeaderEventType, Value: []byte(base.EventType)},
			{Key: HeaderEventID, Value: []byte(base.EventID)},
		}
	}
	span.SetAttributes(attribute.String("event.type", eventType))

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return util.RecordError(span, fmt.Errorf("failed to write %s to kafka: %w", eventType, err))
	}

	p.logger.Debug("Published event", zap.String("key", key), zap.String("event_type", eventType))
	return nil
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer reads one topic as part of a consumer group.
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger

	// backoff bounds the wait after a failed fetch.
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewConsumer joins groupID on topic. New groups start from the oldest
// offset so triggers published before the engine came up are not lost.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{
		reader:     reader,
		logger:     util.ComponentLogger("consumer").With(zap.String("topic", topic), zap.String("group", groupID)),
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 10 * time.Second,
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler processes one fetched message.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming feeds messages to handler until ctx ends. A message is
// committed only once the handler accepts it.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting Kafka consumer")

	backoff := c.minBackoff
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("Consumer stopped")
				return ctx.Err()
			}
			c.logger.Error("Error fetching message", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			continue
		}
		backoff = c.minBackoff

		if err := c.handle(ctx, msg, handler); err != nil {
			c.logger.Error("Error handling message",
				zap.Error(err),
				zap.String("event_type", headerValue(msg, HeaderEventType)),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Error committing message", zap.Error(err), zap.Int64("offset", msg.Offset))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler MessageHandler) error {
	ctx, span := util.StartSpan(ctx, "Consumer.HandleMessage",
		attribute.String("messaging.source", msg.Topic),
		attribute.String("event.type", headerValue(msg, HeaderEventType)),
		attribute.Int64("messaging.offset", msg.Offset),
	)
	defer span.End()
	return util.RecordError(span, handler(ctx, msg))
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
