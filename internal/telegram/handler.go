package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/tbourn/ideabot/internal/config"
	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/extract"
	"github.com/tbourn/ideabot/internal/logging"
	"github.com/tbourn/ideabot/internal/ratelimit"
	"github.com/tbourn/ideabot/internal/services"
)

// User-facing texts.
const (
	textGreeting = "Hi! Tell me about the feature you would like to see and I will help you shape it.\n\n" +
		"Commands:\n" +
		"/submit Title | Description | tag1, tag2 - publish an idea directly\n" +
		"/new - start a new conversation"
	textReset          = "Started a new conversation."
	textSubmitUsage    = "Usage: /submit Title | Description | tag1, tag2"
	textTooFast        = "You are sending messages too fast. Please wait a moment."
	textDialogTimeout  = "The assistant is taking too long to answer. Please try again."
	textDialogDown     = "The assistant is unavailable right now. Please try again later."
	textReadyHint      = "Looks complete! Send /submit Title | Description | tags to publish it."
	textUnsupported    = "I can't read this file type yet. Please type your request as text."
	textFileTooLarge   = "That file is too large."
	textFileFailed     = "I couldn't download that file. Please try again or type your request."
	textAdminOnly      = "This command is for admins only."
	textTopRefreshed   = "Top ideas refreshed."
	textTopFailed      = "Could not refresh the top ideas board."
	textDuplicateVote  = "You already voted this way."
	textRequestGone    = "This request no longer exists."
	textVoteFailed     = "Could not record your vote. Please try again."
	textInvoiceFailed  = "Could not create the invoice. Please try again later."
	textPaymentFailed  = "Your payment was received but could not be applied yet. An admin will follow up."
	textUnknownButton  = "This button is no longer supported."
	textPublishFailed  = "Could not post your idea to the channel right now. Please try again later."
	textPublishSkipped = "Could not save your idea. Please try again later."
)

// invoicePayload is the payload attached to priority invoices.
type invoicePayload struct {
	RequestID int64  `json:"request_id"`
	Kind      string `json:"kind"`
}

// Handler dispatches Telegram updates. Handle matches bot.HandlerFunc.
type Handler struct {
	API       API
	Ledger    *services.LedgerService
	Renderer  *services.TallyRenderer
	Publisher *services.PublishService
	Relay     *services.RelayService
	Top       *services.TopIdeasService
	Extractor *extract.Extractor
	Fetcher   *extract.Fetcher
	Limiter   *ratelimit.Keyed // nil disables relay throttling

	Telegram config.TelegramConfig
	Priority config.PriorityConfig

	// WorkTimeout bounds the asynchronous half of a callback.
	WorkTimeout time.Duration

	// spawn runs background work; tests replace it to run inline.
	spawn func(func())
	wg    sync.WaitGroup
}

// Handle is the bot's default handler.
func (h *Handler) Handle(ctx context.Context, _ *bot.Bot, upd *models.Update) {
	ctx = logging.Context(ctx, map[string]any{"update_id": upd.ID})

	switch {
	case upd.CallbackQuery != nil:
		updatesTotal.WithLabelValues("callback_query").Inc()
		h.onCallback(ctx, upd.CallbackQuery)
	case upd.PreCheckoutQuery != nil:
		updatesTotal.WithLabelValues("pre_checkout_query").Inc()
		h.onPreCheckout(ctx, upd.PreCheckoutQuery)
	case upd.Message != nil && upd.Message.SuccessfulPayment != nil:
		updatesTotal.WithLabelValues("successful_payment").Inc()
		h.onPayment(ctx, upd.Message)
	case upd.Message != nil && upd.Message.From != nil:
		updatesTotal.WithLabelValues("message").Inc()
		h.onMessage(ctx, upd.Message)
	default:
		updatesTotal.WithLabelValues("ignored").Inc()
	}
}

// Wait blocks until background callback work has finished.
func (h *Handler) Wait() { h.wg.Wait() }

func (h *Handler) onMessage(ctx context.Context, msg *models.Message) {
	ctx = logging.WithUser(ctx, msg.From.ID, msg.From.Username)
	log := logging.Ctx(ctx)
	log.Info().Str("event", "telegram_message").Int64("chat_id", msg.Chat.ID).
		Str("snippet", logging.Snippet(msg.Text, 30)).Msg("incoming message")

	if cmd, args, ok := parseCommand(msg); ok {
		h.onCommand(ctx, msg, cmd, args)
		return
	}

	switch {
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		h.onFile(ctx, msg, largest.FileID, int64(largest.FileSize), true)
	case msg.Document != nil:
		h.onFile(ctx, msg, msg.Document.FileID, int64(msg.Document.FileSize), false)
	case strings.TrimSpace(msg.Text) != "":
		h.relay(ctx, msg, msg.Text)
	}
}

func (h *Handler) onCommand(ctx context.Context, msg *models.Message, cmd, args string) {
	chatID := msg.Chat.ID
	switch cmd {
	case "start", "help":
		h.send(ctx, chatID, textGreeting)

	case "new":
		if err := h.Relay.Reset(ctx, msg.From.ID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("session reset failed")
		}
		h.send(ctx, chatID, textReset)

	case "submit":
		h.submit(ctx, msg, args)

	case "top":
		if !h.Telegram.IsAdmin(msg.From.ID) {
			h.send(ctx, chatID, textAdminOnly)
			return
		}
		if err := h.Top.Refresh(ctx); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("top ideas refresh failed")
			h.send(ctx, chatID, textTopFailed)
			return
		}
		h.send(ctx, chatID, textTopRefreshed)

	default:
		h.send(ctx, chatID, textGreeting)
	}
}

func (h *Handler) submit(ctx context.Context, msg *models.Message, args string) {
	parts := strings.SplitN(args, "|", 3)
	if len(parts) < 2 {
		h.send(ctx, msg.Chat.ID, textSubmitUsage)
		return
	}
	in := services.PublishInput{
		AuthorID:    &msg.From.ID,
		AuthorName:  msg.From.Username,
		Title:       parts[0],
		Description: parts[1],
	}
	if len(parts) == 3 {
		in.Tags = strings.Split(parts[2], ",")
	}

	res, err := h.Publisher.Publish(ctx, in)
	var verr *services.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		h.send(ctx, msg.Chat.ID, fmt.Sprintf("Could not publish: %s %s.", verr.Field, verr.Reason))
		return
	case errors.Is(err, services.ErrUpstream):
		h.send(ctx, msg.Chat.ID, textPublishFailed)
		return
	default:
		logging.Ctx(ctx).Error().Err(err).Msg("publish failed")
		h.send(ctx, msg.Chat.ID, textPublishSkipped)
		return
	}

	text := fmt.Sprintf("Published! Your idea is request #%d.", res.RequestID)
	if len(res.Similar) > 0 {
		ids := make([]string, len(res.Similar))
		for i, id := range res.Similar {
			ids[i] = "#" + strconv.FormatInt(id, 10)
		}
		text += "\nSimilar ideas: " + strings.Join(ids, ", ")
	}
	h.send(ctx, msg.Chat.ID, text)
}

func (h *Handler) relay(ctx context.Context, msg *models.Message, text string) {
	if h.Limiter != nil && !h.Limiter.Allow("user:"+strconv.FormatInt(msg.From.ID, 10)) {
		h.send(ctx, msg.Chat.ID, textTooFast)
		return
	}
	if _, err := h.API.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: msg.Chat.ID,
		Action: models.ChatActionTyping,
	}); err != nil {
		logging.Ctx(ctx).Debug().Err(err).Msg("typing action failed")
	}

	rep, err := h.Relay.Relay(ctx, msg.From.ID, text)
	var verr *services.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &verr):
		return
	case errors.Is(err, services.ErrUpstreamTimeout):
		h.send(ctx, msg.Chat.ID, textDialogTimeout)
		return
	default:
		logging.Ctx(ctx).Error().Err(err).Msg("dialog relay failed")
		h.send(ctx, msg.Chat.ID, textDialogDown)
		return
	}

	for _, m := range rep.Messages {
		h.send(ctx, msg.Chat.ID, m)
	}
	if rep.ReadyToPublish {
		h.send(ctx, msg.Chat.ID, textReadyHint)
	}
}

func (h *Handler) onFile(ctx context.Context, msg *models.Message, fileID string, size int64, isImage bool) {
	log := logging.Ctx(ctx)
	limit := h.Extractor.Limit(isImage)
	if limit > 0 && size > limit {
		h.send(ctx, msg.Chat.ID, textFileTooLarge)
		return
	}

	f, err := h.API.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		log.Warn().Err(err).Msg("get file failed")
		h.send(ctx, msg.Chat.ID, textFileFailed)
		return
	}
	data, err := h.Fetcher.Fetch(ctx, h.API.FileDownloadLink(f), limit)
	if err != nil {
		if errors.Is(err, extract.ErrTooLarge) {
			h.send(ctx, msg.Chat.ID, textFileTooLarge)
			return
		}
		log.Warn().Err(err).Msg("file download failed")
		h.send(ctx, msg.Chat.ID, textFileFailed)
		return
	}

	res, err := h.Extractor.Extract(data)
	if err != nil {
		log.Info().Err(err).Str("mime", res.MIME).Msg("file not extracted")
		if errors.Is(err, extract.ErrTooLarge) {
			h.send(ctx, msg.Chat.ID, textFileTooLarge)
		} else {
			h.send(ctx, msg.Chat.ID, textUnsupported)
		}
		return
	}
	log.Info().Str("mime", res.MIME).Int("chars", len(res.Text)).Msg("file extracted")

	text := res.Text
	if c := strings.TrimSpace(msg.Caption); c != "" {
		text = c + "\n\n" + text
	}
	h.relay(ctx, msg, text)
}

// onCallback acknowledges the press at once and runs the ledger work in the
// background; outcomes other than success reach the voter as a message.
func (h *Handler) onCallback(ctx context.Context, cq *models.CallbackQuery) {
	ctx = logging.WithUser(ctx, cq.From.ID, cq.From.Username)
	log := logging.Ctx(ctx)

	act, err := DecodeAction(cq.Data)
	if err != nil {
		log.Warn().Err(err).Str("data", cq.Data).Msg("unknown callback")
		h.answer(ctx, cq.ID, textUnknownButton)
		return
	}
	log.Info().Str("event", "callback").Str("action", act.Kind).Int64("feature_request_id", act.RequestID).Msg("button pressed")

	ack := "Vote received"
	if act.Kind == KindPriority {
		ack = "Sending invoice…"
	}
	h.answer(ctx, cq.ID, ack)

	voter := cq.From.ID
	h.goBackground(ctx, func(ctx context.Context) {
		switch act.Kind {
		case KindVoteUp, KindVoteDown:
			dir := domain.DirectionUp
			if act.Kind == KindVoteDown {
				dir = domain.DirectionDown
			}
			tally, err := h.Ledger.CastVote(ctx, act.RequestID, voter, dir)
			h.afterVote(ctx, voter, act.RequestID, tally, err)
		case KindUnvote:
			tally, err := h.Ledger.RemoveVote(ctx, act.RequestID, voter)
			h.afterVote(ctx, voter, act.RequestID, tally, err)
		case KindPriority:
			h.sendInvoice(ctx, voter, act.RequestID)
		}
	})
}

func (h *Handler) afterVote(ctx context.Context, voter, requestID int64, tally domain.Tally, err error) {
	switch {
	case err == nil:
		h.Renderer.RenderAndSync(ctx, requestID, tally)
	case errors.Is(err, services.ErrDuplicateVote):
		h.send(ctx, voter, textDuplicateVote)
	case errors.Is(err, services.ErrRequestNotFound):
		h.send(ctx, voter, textRequestGone)
	default:
		logging.Ctx(ctx).Error().Err(err).Int64("feature_request_id", requestID).Msg("vote failed")
		h.send(ctx, voter, textVoteFailed)
	}
}

func (h *Handler) sendInvoice(ctx context.Context, userID, requestID int64) {
	if _, err := h.Ledger.Tally(ctx, requestID); err != nil {
		if errors.Is(err, services.ErrRequestNotFound) {
			h.send(ctx, userID, textRequestGone)
			return
		}
		logging.Ctx(ctx).Error().Err(err).Msg("invoice: load request failed")
		h.send(ctx, userID, textInvoiceFailed)
		return
	}
	payload, _ := json.Marshal(invoicePayload{RequestID: requestID, Kind: domain.KindPriority})
	_, err := h.API.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:      userID,
		Title:       "Priority boost",
		Description: fmt.Sprintf("Adds %d votes to request #%d and marks it as a priority.", h.Priority.Boost, requestID),
		Payload:     string(payload),
		Currency:    h.Priority.Currency,
		Prices:      []models.LabeledPrice{{Label: "Priority", Amount: h.Priority.Stars}},
	})
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Int64("feature_request_id", requestID).Msg("send invoice failed")
		h.send(ctx, userID, textInvoiceFailed)
	}
}

func (h *Handler) onPreCheckout(ctx context.Context, q *models.PreCheckoutQuery) {
	if q.From != nil {
		ctx = logging.WithUser(ctx, q.From.ID, q.From.Username)
	}
	reason := h.checkInvoice(ctx, q.InvoicePayload, q.Currency, q.TotalAmount)
	params := &bot.AnswerPreCheckoutQueryParams{PreCheckoutQueryID: q.ID, OK: reason == ""}
	if reason != "" {
		params.ErrorMessage = reason
		logging.Ctx(ctx).Warn().Str("reason", reason).Str("payload", q.InvoicePayload).Msg("pre-checkout rejected")
	}
	if _, err := h.API.AnswerPreCheckoutQuery(ctx, params); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("answer pre-checkout failed")
	}
}

// checkInvoice returns an empty string when the invoice may be paid.
func (h *Handler) checkInvoice(ctx context.Context, payload, currency string, amount int) string {
	var p invoicePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.RequestID <= 0 {
		return "Invalid invoice."
	}
	if _, ok := h.Ledger.Boosts[p.Kind]; !ok {
		return "Unknown purchase."
	}
	if currency != h.Priority.Currency || amount != h.Priority.Stars {
		return "The price has changed. Please request a new invoice."
	}
	if _, err := h.Ledger.Tally(ctx, p.RequestID); err != nil {
		if errors.Is(err, services.ErrRequestNotFound) {
			return "This request no longer exists."
		}
		return "Please try again later."
	}
	return ""
}

func (h *Handler) onPayment(ctx context.Context, msg *models.Message) {
	sp := msg.SuccessfulPayment
	var payer int64
	if msg.From != nil {
		payer = msg.From.ID
		ctx = logging.WithUser(ctx, payer, msg.From.Username)
	}
	log := logging.Ctx(ctx).With().Str("charge_id", sp.TelegramPaymentChargeID).Logger()

	var p invoicePayload
	if err := json.Unmarshal([]byte(sp.InvoicePayload), &p); err != nil {
		log.Error().Err(err).Str("payload", sp.InvoicePayload).Msg("payment with unreadable payload")
		h.send(ctx, msg.Chat.ID, textPaymentFailed)
		return
	}

	res, err := h.Ledger.ApplyPayment(ctx, services.PaymentInput{
		ChargeID:         sp.TelegramPaymentChargeID,
		ProviderChargeID: sp.ProviderPaymentChargeID,
		RequestID:        p.RequestID,
		PayerID:          payer,
		Amount:           sp.TotalAmount,
		Currency:         sp.Currency,
		Kind:             p.Kind,
	})
	if err != nil {
		log.Error().Err(err).Int64("feature_request_id", p.RequestID).Msg("apply payment failed")
		h.send(ctx, msg.Chat.ID, textPaymentFailed)
		return
	}
	if res.AlreadyProcessed {
		log.Info().Msg("payment already processed")
		return
	}

	h.Renderer.RenderAndSync(ctx, res.Tally.RequestID, res.Tally)
	log.Info().Int64("feature_request_id", res.Tally.RequestID).Int("tally", res.Tally.Total).Msg("priority applied")
	h.send(ctx, msg.Chat.ID, fmt.Sprintf("Thank you! Request #%d is now a priority with a score of %+d.", res.Tally.RequestID, res.Tally.Total))
}

// goBackground runs fn detached from the update's cancellation, bounded by
// WorkTimeout.
func (h *Handler) goBackground(ctx context.Context, fn func(context.Context)) {
	ctx = context.WithoutCancel(ctx)
	timeout := h.WorkTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	spawn := h.spawn
	if spawn == nil {
		spawn = func(f func()) { go f() }
	}
	h.wg.Add(1)
	spawn(func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		fn(ctx)
	})
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) {
	if _, err := h.API.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("answer callback failed")
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	if _, err := h.API.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}

// parseCommand splits "/cmd@bot args". Commands are recognised by a leading
// bot_command entity or, failing that, a leading slash.
func parseCommand(msg *models.Message) (cmd, args string, ok bool) {
	text := msg.Text
	if text == "" {
		return "", "", false
	}
	end := -1
	for _, e := range msg.Entities {
		if e.Type == models.MessageEntityTypeBotCommand && e.Offset == 0 && e.Length <= len(text) {
			end = e.Length
			break
		}
	}
	if end < 0 {
		if !strings.HasPrefix(text, "/") {
			return "", "", false
		}
		end = strings.IndexAny(text, " \n\t")
		if end < 0 {
			end = len(text)
		}
	}
	cmd = strings.TrimPrefix(text[:end], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(text[end:]), cmd != ""
}
