// Package messaging delivers execution events to downstream consumers.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Aidin1998/pincex_matching/internal/trading/execution"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher is closed")

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig contains configuration options for KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	Compression  string        `mapstructure:"compression"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	// PartitionKey is the key of every message. A single key keeps all
	// events on one partition, in sequence order.
	PartitionKey string `mapstructure:"partition_key"`
}

// DefaultKafkaConfig returns settings tuned for small, ordered events.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		BatchSize:    1,
		BatchTimeout: 5 * time.Millisecond,
		WriteTimeout: time.Second,
		RequiredAcks: int(kafka.RequireAll),
		Compression:  "snappy",
		MaxAttempts:  3,
		PartitionKey: "execution",
	}
}

// KafkaPublisher writes ExecutionEvents as JSON to one topic.
type KafkaPublisher struct {
	topic  string
	key    []byte
	writer messageWriter
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a synchronous publisher.
func NewKafkaPublisher(logger *zap.Logger, cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher: brokers and topic are required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false,
	}
	switch cfg.Compression {
	case "gzip":
		w.Compression = kafka.Gzip
	case "lz4":
		w.Compression = kafka.Lz4
	case "zstd":
		w.Compression = kafka.Zstd
	case "none":
	default:
		w.Compression = kafka.Snappy
	}
	return newKafkaPublisher(logger, cfg.Topic, cfg.PartitionKey, w), nil
}

func newKafkaPublisher(logger *zap.Logger, topic, key string, w messageWriter) *KafkaPublisher {
	if key == "" {
		key = "execution"
	}
	return &KafkaPublisher{topic: topic, key: []byte(key), writer: w, logger: logger}
}

// Publish implements execution.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, event *execution.ExecutionEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event %d: %w", event.SequenceNumber, err)
	}
	msg := kafka.Message{
		Key:   p.key,
		Value: data,
		Headers: []kafka.Header{
			{Key: "source", Value: []byte("matching-engine")},
			{Key: "message_id", Value: []byte(event.MessageID)},
			{Key: "message_type", Value: []byte(event.MessageType)},
			{Key: "sequence_number", Value: []byte(strconv.FormatUint(event.SequenceNumber, 10))},
		},
		Time: event.Timestamp,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish execution event",
			zap.String("topic", p.topic),
			zap.Uint64("sequence_number", event.SequenceNumber),
			zap.String("message_id", event.MessageID),
			zap.Error(err))
		return fmt.Errorf("publish to kafka topic %s: %w", p.topic, err)
	}
	p.logger.Debug("execution event published",
		zap.String("topic", p.topic),
		zap.Uint64("sequence_number", event.SequenceNumber),
		zap.Int("data_size", len(data)))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}
