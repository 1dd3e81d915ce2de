package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/demand"
	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/metrics"
	"github.com/venue-app/pricingservice/internal/retry"
	"github.com/venue-app/pricingservice/internal/surge"
)

// ErrMalformedMessage marks messages that can never be handled. They are
// skipped without retry.
var ErrMalformedMessage = errors.New("malformed message")

// Handler processes one consumed message
type Handler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

func (f HandlerFunc) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return f(ctx, msg)
}

// ConsumerConfig holds consumer group settings
type ConsumerConfig struct {
	Brokers  []string
	ClientID string
	GroupID  string
}

// NewConsumerGroup creates a sarama consumer group that starts from the
// oldest retained offset the first time a group is seen.
func NewConsumerGroup(cfg ConsumerConfig) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID
	config.Version = sarama.V2_8_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", cfg.GroupID, err)
	}
	return group, nil
}

// Consumer runs a handler over the messages of a consumer group. Every
// message is marked once handled or given up on, so a poison message never
// blocks its partition.
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler Handler
	retry   retry.Config
	logger  *zap.Logger
}

// NewConsumer creates a new consumer
func NewConsumer(group sarama.ConsumerGroup, topics []string, handler Handler, retryConfig retry.Config, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		group:   group,
		topics:  topics,
		handler: handler,
		retry:   retryConfig,
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled or the group is closed. On
// cancellation the in-flight message is finished before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Starting consumer", zap.Strings("topics", c.topics))

	go func() {
		for err := range c.group.Errors() {
			c.logger.Error("Consumer group error", zap.Error(err))
			metrics.RecordError("consumer_group", "kafka")
		}
	}()

	for {
		err := c.group.Consume(ctx, c.topics, c)
		if ctx.Err() != nil {
			c.logger.Info("Consumer stopping due to context cancellation", zap.Strings("topics", c.topics))
			return nil
		}
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume failed: %w", err)
		}
	}
}

// Close leaves the group
func (c *Consumer) Close() error {
	return c.group.Close()
}

// Setup implements sarama.ConsumerGroupHandler
func (c *Consumer) Setup(sess sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer session started",
		zap.String("member_id", sess.MemberID()),
		zap.Int32("generation", sess.GenerationID()))
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (c *Consumer) Cleanup(sess sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer session ended", zap.String("member_id", sess.MemberID()))
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (c *Consumer) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.handle(sess.Context(), msg)
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *sarama.ConsumerMessage) {
	// The session context ends on rebalance or shutdown; the message being
	// handled still runs to completion.
	ctx = context.WithoutCancel(ctx)

	err := retry.Do(ctx, c.retry, c.logger, func() error {
		err := c.handler.Handle(ctx, msg)
		if errors.Is(err, ErrMalformedMessage) {
			return retry.Permanent(err)
		}
		return err
	})

	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	}
	switch {
	case err == nil:
		metrics.RecordKafkaMessage(msg.Topic, "consume", "ok")
	case errors.Is(err, ErrMalformedMessage):
		metrics.RecordKafkaMessage(msg.Topic, "consume", "malformed")
		c.logger.Warn("Skipping malformed message", append(fields, zap.Error(err))...)
	default:
		metrics.RecordKafkaMessage(msg.Topic, "consume", "error")
		c.logger.Error("Giving up on message", append(fields, zap.Error(err))...)
	}
}

// BookingProcessor is the demand side of the booking stream
type BookingProcessor interface {
	Process(ctx context.Context, ev domain.BookingEvent) ([]domain.DemandObservation, error)
}

// BookingHandler decodes booking lifecycle events and feeds them to the
// demand aggregator.
func BookingHandler(processor BookingProcessor) Handler {
	return HandlerFunc(func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var ev domain.BookingEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		_, err := processor.Process(ctx, ev)
		if errors.Is(err, demand.ErrMalformedEvent) {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return err
	})
}

// ObservationProcessor is the surge side of the observation stream
type ObservationProcessor interface {
	HandleObservation(ctx context.Context, obs domain.DemandObservation) ([]*surge.Outcome, error)
}

// ObservationHandler decodes demand observations and feeds them to the
// surge updater.
func ObservationHandler(processor ObservationProcessor) Handler {
	return HandlerFunc(func(ctx context.Context, msg *sarama.ConsumerMessage) error {
		var obs domain.DemandObservation
		if err := json.Unmarshal(msg.Value, &obs); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if obs.SubLocationID == "" || obs.HourStart.IsZero() {
			return fmt.Errorf("%w: observation without sub-location or hour", ErrMalformedMessage)
		}
		if obs.EmittedAt.IsZero() {
			obs.EmittedAt = time.Now().UTC()
		}
		_, err := processor.HandleObservation(ctx, obs)
		return err
	})
}
