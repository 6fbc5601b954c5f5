package kafka

import (
	"context"
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
)

type producerConfig interface {
	Brokers() []string
	AcceptedTopic() string
}

type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(cfg producerConfig) (*Producer, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_5_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers(), config)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return newProducer(producer, cfg.AcceptedTopic()), nil
}

func newProducer(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic}
}

// PublishAccepted sends the event keyed by submitter so that events of one
// user stay ordered within a partition.
func (p *Producer) PublishAccepted(ctx context.Context, event submission.AcceptedEvent) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "publishAccepted")
	defer span.Finish()

	raw, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode accepted event")
	}
	partition, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Submitter),
		Value: sarama.ByteEncoder(raw),
	})
	if err != nil {
		return errors.Wrap(err, "send accepted event")
	}
	logger.Debug("accepted event sent",
		zap.String("id", event.SubmissionID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (p *Producer) Close() {
	err := p.producer.Close()
	if err != nil {
		logger.Error("failed to close producer", zap.Error(err))
	}
}
