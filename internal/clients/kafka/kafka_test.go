package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"max.ks1230/grants-portal/internal/entity/grant"
	"max.ks1230/grants-portal/internal/entity/submission"
)

func acceptedEvent() submission.AcceptedEvent {
	return submission.AcceptedEvent{
		SubmissionID:          "s-1",
		Submitter:             "staff@uni.edu",
		Category:              grant.Research,
		Total:                 decimal.NewFromInt(100),
		RemainingBalanceAfter: decimal.NewFromInt(19900),
	}
}

func Test_Producer_PublishAccepted(t *testing.T) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, config)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event submission.AcceptedEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.SubmissionID != "s-1" || !event.Total.Equal(decimal.NewFromInt(100)) {
			return errors.New("unexpected event")
		}
		return nil
	})
	p := newProducer(sp, "submissions.accepted")

	require.NoError(t, p.PublishAccepted(context.Background(), acceptedEvent()))
	p.Close()
}

func Test_Producer_PublishAcceptedFailure(t *testing.T) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, config)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := newProducer(sp, "submissions.accepted")

	err := p.PublishAccepted(context.Background(), acceptedEvent())
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	p.Close()
}

type invalidations []string

func (i *invalidations) InvalidateSubmissions(email string) error {
	*i = append(*i, email)
	return nil
}

type notifications []string

func (n *notifications) NotifyAccepted(_ context.Context, event submission.AcceptedEvent) error {
	*n = append(*n, event.SubmissionID)
	return nil
}

func Test_Consumer_InvalidatesAndNotifies(t *testing.T) {
	var inv invalidations
	var notes notifications
	c := &Consumer{}
	WithInvalidator(&inv)(c)
	WithNotifier(&notes)(c)
	raw, err := json.Marshal(acceptedEvent())
	require.NoError(t, err)
	ctx := context.Background()

	c.handle(ctx, &sarama.ConsumerMessage{Key: []byte("staff@uni.edu"), Value: raw})
	c.handle(ctx, &sarama.ConsumerMessage{Value: []byte("not json")})

	assert.Equal(t, invalidations{"staff@uni.edu"}, inv)
	assert.Equal(t, notifications{"s-1"}, notes)
}

func Test_Consumer_WithoutHandlers(t *testing.T) {
	raw, err := json.Marshal(acceptedEvent())
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		(&Consumer{}).handle(context.Background(), &sarama.ConsumerMessage{Value: raw})
	})
}
