// Package dialog relays user text to a hosted conversational provider
// (Voiceflow, Botpress, or OpenAI) and returns the provider's reply segments.
//
// Clients are stateless apart from the provider-side conversation keyed by
// the Telegram user id. They do not log; callers decide what to record.
package dialog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tbourn/ideabot/internal/config"
)

// Provider names accepted by New.
const (
	ProviderNone      = "none"
	ProviderVoiceflow = "voiceflow"
	ProviderBotpress  = "botpress"
	ProviderOpenAI    = "openai"
)

// Reply is one provider answer. Messages holds the text segments in the
// order the provider produced them.
type Reply struct {
	Messages []string
	// ReadyToPublish is set when the provider signals that the dialog
	// collected a complete submission.
	ReadyToPublish bool
}

// Text joins the segments with newlines.
func (r Reply) Text() string { return strings.Join(r.Messages, "\n") }

// Client sends one user turn to the provider.
type Client interface {
	Reply(ctx context.Context, userID int64, text string) (Reply, error)
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, e.Body)
}

// New builds the client for cfg.Provider. It returns (nil, nil) for "none".
func New(cfg config.DialogConfig, hc *http.Client) (Client, error) {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	switch cfg.Provider {
	case ProviderNone, "":
		return nil, nil
	case ProviderVoiceflow:
		return &Voiceflow{
			BaseURL: cfg.VoiceflowBaseURL,
			APIKey:  cfg.VoiceflowKey,
			Version: cfg.VoiceflowVersion,
			HTTP:    hc,
		}, nil
	case ProviderBotpress:
		return &Botpress{
			BaseURL:   cfg.BotpressBaseURL,
			APIKey:    cfg.BotpressKey,
			BotID:     cfg.BotpressBotID,
			PollDelay: cfg.BotpressPollDelay,
			HTTP:      hc,
		}, nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAISystemPrompt), nil
	default:
		return nil, fmt.Errorf("dialog: unknown provider %q", cfg.Provider)
	}
}

// checkStatus turns a non-2xx response into a *StatusError carrying a
// bounded excerpt of the body.
func checkStatus(provider string, res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return &StatusError{Provider: provider, Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
}
