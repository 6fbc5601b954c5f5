package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
)

type consumerConfig interface {
	producerConfig
	ConsumerGroup() string
}

type cacheInvalidator interface {
	InvalidateSubmissions(email string) error
}

type reviewNotifier interface {
	NotifyAccepted(ctx context.Context, event submission.AcceptedEvent) error
}

type ConsumerOption func(*Consumer)

func WithInvalidator(invalidator cacheInvalidator) ConsumerOption {
	return func(c *Consumer) { c.invalidator = invalidator }
}

func WithNotifier(notifier reviewNotifier) ConsumerOption {
	return func(c *Consumer) { c.notifier = notifier }
}

// Consumer reacts to submissions accepted by any portal instance: it drops
// the submitter's cached list and tells reviewers about the new claim.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	topic         string
	invalidator   cacheInvalidator
	notifier      reviewNotifier
}

func NewConsumer(cfg consumerConfig, opts ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_5_0_0
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers(), cfg.ConsumerGroup(), config)
	if err != nil {
		return nil, errors.Wrap(err, "create consumer group")
	}
	c := &Consumer{
		consumerGroup: consumerGroup,
		topic:         cfg.AcceptedTopic(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Consumer) StartConsuming(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			err := c.consumerGroup.Consume(ctx, []string{c.topic}, c)
			if err != nil {
				return errors.Wrap(err, fmt.Sprintf("consume from %s", c.topic))
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumerGroup.Close()
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer - setup")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer - cleanup")
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		c.handle(session.Context(), message)
		session.MarkMessage(message, "")
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	var event submission.AcceptedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		logger.Error("cannot unmarshal kafka message", zap.Error(err))
		return
	}
	logger.Info(
		"received accepted submission",
		zap.ByteString("key", message.Key),
		zap.String("id", event.SubmissionID),
		zap.String("email", event.Submitter),
	)
	if c.invalidator != nil {
		if err := c.invalidator.InvalidateSubmissions(event.Submitter); err != nil {
			logger.Error("failed to invalidate submissions cache", zap.Error(err))
		}
	}
	if c.notifier != nil {
		if err := c.notifier.NotifyAccepted(ctx, event); err != nil {
			logger.Error("failed to notify reviewers", zap.String("id", event.SubmissionID), zap.Error(err))
		}
	}
}
