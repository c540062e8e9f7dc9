package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// DefaultClientID identifies this service to the brokers
const DefaultClientID = "lavender-orders"

// ProducerConfig configures the order event producer
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	// SendTimeout bounds one broker round trip
	SendTimeout time.Duration
}

// Producer publishes keyed order events. It is safe for concurrent use.
type Producer struct {
	producer sarama.SyncProducer
	logger   logger.Logger
}

// producerConfig builds an idempotent, fully acknowledged sarama config.
// Keys are hashed to partitions, so events for one order stay ordered.
func producerConfig(cfg ProducerConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}

	config.Version = sarama.V2_1_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Producer.Retry.Max = 10
	config.Producer.Retry.Backoff = 500 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	config.Producer.Timeout = cfg.SendTimeout
	if config.Producer.Timeout <= 0 {
		config.Producer.Timeout = 5 * time.Second
	}

	return config
}

// NewProducer connects a sync producer to the brokers
func NewProducer(cfg ProducerConfig, logger logger.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker is required")
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig(cfg))

	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &Producer{
		producer: producer,
		logger:   logger,
	}, nil
}

// newMessage builds the record for one event. An empty key leaves
// partitioning to the producer.
func newMessage(topic, key string, value []byte, headers map[string]string) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}

	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	return msg
}

// SendMessage publishes value to topic under key. A cancelled context is
// reported without contacting the brokers.
func (p *Producer) SendMessage(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(newMessage(topic, key, value, headers))

	if err != nil {
		p.logger.Error("Failed to send message to Kafka",
			"error", err,
			"topic", topic,
			"key", key)
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	p.logger.Debug("Message sent to Kafka",
		"topic", topic,
		"key", key,
		"partition", partition,
		"offset", offset)

	return nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
