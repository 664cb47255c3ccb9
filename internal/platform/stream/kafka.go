// Package stream mirrors domain events onto a Kafka topic.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON-encoded values keyed for partition affinity.
type Producer struct {
	writer MessageWriter
	logger zerolog.Logger
}

// NewProducer builds a producer writing to topic on the given brokers.
func NewProducer(brokers []string, topic string, logger zerolog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(w, logger)
}

// NewProducerWithWriter allows injecting a test writer.
func NewProducerWithWriter(w MessageWriter, logger zerolog.Logger) *Producer {
	return &Producer{writer: w, logger: logger.With().Str("component", "stream").Logger()}
}

// Publish marshals value to JSON and writes one message with the given key.
func (p *Producer) Publish(ctx context.Context, key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal stream value: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b}); err != nil {
		p.logger.Warn().Err(err).Str("key", key).Msg("kafka write failed")
		return fmt.Errorf("write stream message: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
