package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/services"
)

// Channel publishes request posts and board messages to one channel.
// It implements services.Publisher, services.Syncer and services.Board.
type Channel struct {
	API           API
	ChatID        int64
	PriorityStars int
	Timeout       time.Duration // per API call; zero means no extra deadline
}

var (
	_ services.Publisher = (*Channel)(nil)
	_ services.Syncer    = (*Channel)(nil)
	_ services.Board     = (*Channel)(nil)
)

// PostRequest sends the request post with its voting keyboard.
func (c *Channel) PostRequest(ctx context.Context, req *domain.FeatureRequest, tally domain.Tally) (int64, int, error) {
	kb, err := Keyboard(req.ID, tally, c.PriorityStars)
	if err != nil {
		return 0, 0, err
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	msg, err := c.API.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             c.ChatID,
		Text:               FormatRequest(req, tally),
		ParseMode:          models.ParseModeHTML,
		ReplyMarkup:        kb,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		return 0, 0, classify(err)
	}
	return msg.Chat.ID, msg.ID, nil
}

// SyncTally re-renders the post text and keyboard with tally.
func (c *Channel) SyncTally(ctx context.Context, chatID int64, messageID int, req *domain.FeatureRequest, tally domain.Tally) error {
	kb, err := Keyboard(req.ID, tally, c.PriorityStars)
	if err != nil {
		return err
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, err = c.API.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:             chatID,
		MessageID:          messageID,
		Text:               FormatRequest(req, tally),
		ParseMode:          models.ParseModeHTML,
		ReplyMarkup:        kb,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	return classify(err)
}

// PostHTML sends a plain HTML message to the channel.
func (c *Channel) PostHTML(ctx context.Context, text string) (int64, int, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	msg, err := c.API.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:             c.ChatID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	if err != nil {
		return 0, 0, classify(err)
	}
	return msg.Chat.ID, msg.ID, nil
}

// EditHTML replaces the text of a bot-owned message.
func (c *Channel) EditHTML(ctx context.Context, chatID int64, messageID int, text string) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, err := c.API.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:             chatID,
		MessageID:          messageID,
		Text:               text,
		ParseMode:          models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{IsDisabled: bot.True()},
	})
	return classify(err)
}

// Pin pins a message silently.
func (c *Channel) Pin(ctx context.Context, chatID int64, messageID int) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	_, err := c.API.PinChatMessage(ctx, &bot.PinChatMessageParams{
		ChatID:              chatID,
		MessageID:           messageID,
		DisableNotification: true,
	})
	return classify(err)
}

func (c *Channel) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// classify maps Bot API failures onto the service-level channel errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "message is not modified"):
		return fmt.Errorf("%w: %v", services.ErrChannelNotModified, err)
	case errors.Is(err, bot.ErrorForbidden),
		errors.Is(err, bot.ErrorNotFound),
		strings.Contains(msg, "message to edit not found"),
		strings.Contains(msg, "message not found"),
		strings.Contains(msg, "chat not found"):
		return fmt.Errorf("%w: %v", services.ErrChannelMessageGone, err)
	}
	return err
}
