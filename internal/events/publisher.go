package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/demand"
	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/metrics"
	"github.com/venue-app/pricingservice/internal/retry"
)

// Header names set on produced messages
const (
	HeaderEventType = "event-type"
	HeaderVersion   = "version"
)

// EventTypeDemandObservation tags demand observation messages
const EventTypeDemandObservation = "demand.observation.emitted"

// ProducerConfig holds Kafka producer settings
type ProducerConfig struct {
	Brokers  []string
	ClientID string
	Timeout  time.Duration
}

// NewSyncProducer creates a Kafka producer that waits for all in-sync
// replicas and partitions by message key.
func NewSyncProducer(cfg ProducerConfig) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_8_0_0
	if cfg.Timeout > 0 {
		config.Producer.Timeout = cfg.Timeout
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher publishes demand observations keyed by sub-location, so
// observations of one sub-location stay ordered within a partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	retry    retry.Config
	logger   *zap.Logger
}

var _ demand.Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a new Kafka publisher
func NewKafkaPublisher(producer sarama.SyncProducer, topic string, retryConfig retry.Config, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		retry:    retryConfig,
		logger:   logger,
	}
}

// PublishObservation sends one observation, retrying transient failures
func (p *KafkaPublisher) PublishObservation(ctx context.Context, obs domain.DemandObservation) error {
	payload, err := json.Marshal(obs)
	if err != nil {
		return fmt.Errorf("failed to marshal observation: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(obs.SubLocationID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(EventTypeDemandObservation)},
			{Key: []byte(HeaderVersion), Value: []byte("1")},
		},
		Timestamp: obs.EmittedAt,
	}

	err = retry.Do(ctx, p.retry, p.logger, func() error {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return err
		}
		p.logger.Debug("Published demand observation",
			zap.String("topic", p.topic),
			zap.String("sub_location_id", obs.SubLocationID),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset))
		return nil
	})
	if err != nil {
		metrics.RecordKafkaMessage(p.topic, "produce", "error")
		return fmt.Errorf("failed to publish observation: %w", err)
	}
	metrics.RecordKafkaMessage(p.topic, "produce", "ok")
	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
