package tg

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
)

type config interface {
	Token() string
	ReviewChatID() int64
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client posts accepted submissions to the grants office review chat.
type Client struct {
	client sender
	chatID int64
}

func New(cfg config) (*Client, error) {
	client, err := tgbotapi.NewBotAPI(cfg.Token())
	if err != nil {
		return nil, errors.Wrap(err, "cannot NewBotApi")
	}
	return &Client{client: client, chatID: cfg.ReviewChatID()}, nil
}

func (c *Client) SendMessage(text string, chatID int64) error {
	_, err := c.client.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return errors.Wrap(err, "client.Send")
	}
	return nil
}

func (c *Client) NotifyAccepted(ctx context.Context, event submission.AcceptedEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info("notifying reviewers", zap.String("id", event.SubmissionID))
	return c.SendMessage(acceptedText(event), c.chatID)
}

func acceptedText(event submission.AcceptedEvent) string {
	return fmt.Sprintf(
		"New %s grant claim %s\nSubmitted by: %s\nAmount: %s\nRemaining after claim: %s",
		event.Category.Title(),
		event.SubmissionID,
		event.Submitter,
		event.Total.StringFixed(2),
		event.RemainingBalanceAfter.StringFixed(2),
	)
}
