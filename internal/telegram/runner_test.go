package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/ideabot/internal/config"
)

type fakeLifecycle struct {
	calls     []string
	webhook   *bot.SetWebhookParams
	setErr    error
	deleteErr error
}

func (f *fakeLifecycle) SetWebhook(_ context.Context, p *bot.SetWebhookParams) (bool, error) {
	f.calls = append(f.calls, "set")
	f.webhook = p
	return f.setErr == nil, f.setErr
}

func (f *fakeLifecycle) DeleteWebhook(context.Context, *bot.DeleteWebhookParams) (bool, error) {
	f.calls = append(f.calls, "delete")
	return f.deleteErr == nil, f.deleteErr
}

func (f *fakeLifecycle) Start(context.Context)        { f.calls = append(f.calls, "start") }
func (f *fakeLifecycle) StartWebhook(context.Context) { f.calls = append(f.calls, "start_webhook") }

func TestRunner_Webhook(t *testing.T) {
	lc := &fakeLifecycle{}
	r := &Runner{Bot: lc, Config: config.TelegramConfig{Mode: "webhook", WebhookURL: "https://x/telegram/webhook", WebhookSecret: "s3"}}
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"set", "start_webhook"}, lc.calls)
	assert.Equal(t, "https://x/telegram/webhook", lc.webhook.URL)
	assert.Equal(t, "s3", lc.webhook.SecretToken)
}

func TestRunner_Polling(t *testing.T) {
	lc := &fakeLifecycle{}
	r := &Runner{Bot: lc, Config: config.TelegramConfig{Mode: "polling"}}
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"delete", "start"}, lc.calls)
}

func TestRunner_Errors(t *testing.T) {
	lc := &fakeLifecycle{setErr: errors.New("boom")}
	err := (&Runner{Bot: lc, Config: config.TelegramConfig{Mode: "webhook"}}).Run(context.Background())
	assert.ErrorContains(t, err, "set webhook")
	assert.Equal(t, []string{"set"}, lc.calls)

	lc = &fakeLifecycle{deleteErr: errors.New("boom")}
	err = (&Runner{Bot: lc, Config: config.TelegramConfig{Mode: "polling"}}).Run(context.Background())
	assert.ErrorContains(t, err, "delete webhook")

	err = (&Runner{Bot: &fakeLifecycle{}, Config: config.TelegramConfig{Mode: "carrier-pigeon"}}).Run(context.Background())
	assert.Error(t, err)
}

func TestVerifySecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	h := VerifySecret("s3", ok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/telegram/webhook", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", nil)
	req.Header.Set(SecretHeader, "s3")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	VerifySecret("", ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
