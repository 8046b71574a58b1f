package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the producer uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON messages on one topic.
type Kafka struct {
	writer messageWriter
	logger *slog.Logger
}

var _ Publisher = (*Kafka)(nil)

// NewKafka creates a producer for topic on the given brokers.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	return &Kafka{writer: writer, logger: logger}
}

// Publish writes one event. The event key selects the partition, so events
// about the same mod or transaction stay ordered.
func (k *Kafka) Publish(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshalling %s: %w", event.Type(), err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type())},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: writing %s: %w", event.Type(), err)
	}

	k.logger.DebugContext(ctx, "published event",
		slog.String("type", event.Type()),
		slog.String("key", event.Key()),
	)
	return nil
}

// Close flushes pending messages and closes the producer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

func modKey(id int64) string {
	return "mod-" + strconv.FormatInt(id, 10)
}
