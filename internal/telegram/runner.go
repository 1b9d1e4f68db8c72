package telegram

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/go-telegram/bot"

	"github.com/tbourn/ideabot/internal/config"
	"github.com/tbourn/ideabot/internal/logging"
)

// SecretHeader carries the webhook secret set via setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// NewBot creates the Bot API client with h as the default handler.
func NewBot(cfg config.TelegramConfig, h *Handler, opts ...bot.Option) (*bot.Bot, error) {
	base := []bot.Option{bot.WithDefaultHandler(h.Handle)}
	if cfg.WebhookSecret != "" {
		base = append(base, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}
	return bot.New(cfg.Token, append(base, opts...)...)
}

// lifecycle is the part of *bot.Bot that receives updates.
type lifecycle interface {
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
	Start(ctx context.Context)
	StartWebhook(ctx context.Context)
}

// Runner receives updates until its context is cancelled.
type Runner struct {
	Bot    lifecycle
	Config config.TelegramConfig
}

// Run registers the webhook (webhook mode) or clears it (polling mode) and
// then blocks processing updates. In webhook mode the HTTP server must mount
// WebhookHandler so updates reach the bot.
func (r *Runner) Run(ctx context.Context) error {
	log := logging.Ctx(ctx)
	switch r.Config.Mode {
	case "webhook":
		if _, err := r.Bot.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:         r.Config.WebhookURL,
			SecretToken: r.Config.WebhookSecret,
		}); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		log.Info().Str("url", r.Config.WebhookURL).Msg("telegram webhook registered")
		r.Bot.StartWebhook(ctx)
	case "polling":
		if _, err := r.Bot.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			return fmt.Errorf("delete webhook: %w", err)
		}
		log.Info().Msg("telegram long polling started")
		r.Bot.Start(ctx)
	default:
		return fmt.Errorf("unknown telegram mode %q", r.Config.Mode)
	}
	return nil
}

// VerifySecret rejects webhook calls whose secret header does not match.
// An empty secret disables the check.
func VerifySecret(secret string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
