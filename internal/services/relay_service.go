// Package services – RelayService
//
// This file implements the dialog relay: a user's free text (or text
// extracted from an uploaded file) is truncated, sent to the configured
// provider under a deadline, and the reply segments are returned. Each turn
// advances the user's session and is recorded as a ConversationTurn on a
// best-effort basis.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/ideabot/internal/dialog"
	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/logging"
	"github.com/tbourn/ideabot/internal/repo"
	"github.com/tbourn/ideabot/internal/session"
)

// Reply texts used when the provider yields nothing useful.
const (
	NoReplyText    = "No reply from the assistant"
	NoProviderText = "Chat is not configured. Send /submit Title | Description | tags to publish an idea."
)

// RelayService forwards user turns to the dialog provider.
type RelayService struct {
	Dialog   dialog.Client // nil means no provider
	Sessions session.Store
	DB       *gorm.DB // conversation log; nil disables it

	Provider string
	MaxText  int
	Timeout  time.Duration
}

// Relay sends text for userID and returns the provider reply.
//
// Errors: ErrUpstreamTimeout when the deadline elapsed, ErrUpstream for any
// other provider failure, *ValidationError for blank input.
func (s *RelayService) Relay(ctx context.Context, userID int64, text string) (dialog.Reply, error) {
	tr := otel.Tracer("services/RelayService")
	ctx, span := tr.Start(ctx, "Relay",
		trace.WithAttributes(
			attribute.Int64("user.id", userID),
			attribute.String("dialog.provider", s.Provider),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return dialog.Reply{}, &ValidationError{Field: "text", Reason: "must not be empty", Err: ErrInvalidInput}
	}
	if s.MaxText > 0 && utf8.RuneCountInString(text) > s.MaxText {
		text = string([]rune(text)[:s.MaxText])
	}
	if s.Dialog == nil {
		return dialog.Reply{Messages: []string{NoProviderText}}, nil
	}

	l := logging.Ctx(ctx)
	var sess session.Session
	if s.Sessions != nil {
		var err error
		if sess, err = s.Sessions.Touch(ctx, userID); err != nil {
			l.Warn().Err(err).Msg("session touch failed; continuing without session")
			sess = session.Session{UserID: userID}
		}
	}
	span.SetAttributes(attribute.Int("session.turn", sess.Turn))

	cctx := ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	rep, err := s.Dialog.Reply(cctx, userID, text)
	if err != nil {
		recordSpanError(span, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(cctx.Err(), context.DeadlineExceeded) {
			dialogTotal.WithLabelValues(s.Provider, "timeout").Inc()
			l.Warn().Err(err).Dur("elapsed", time.Since(start)).Msg("dialog provider timed out")
			return dialog.Reply{}, fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
		}
		dialogTotal.WithLabelValues(s.Provider, resultError).Inc()
		l.Error().Err(err).Msg("dialog provider failed")
		return dialog.Reply{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	dialogTotal.WithLabelValues(s.Provider, resultOK).Inc()

	if len(rep.Messages) == 0 {
		rep.Messages = []string{NoReplyText}
	}
	l.Debug().
		Int("segments", len(rep.Messages)).
		Bool("ready", rep.ReadyToPublish).
		Str("reply", logging.Snippet(rep.Text(), 80)).
		Msg("dialog reply")

	s.record(ctx, sess, userID, text, rep)
	return rep, nil
}

// Reset starts a new session for userID.
func (s *RelayService) Reset(ctx context.Context, userID int64) error {
	if s.Sessions == nil {
		return nil
	}
	return s.Sessions.Reset(ctx, userID)
}

// record writes the analytics row; failures are logged and swallowed.
func (s *RelayService) record(ctx context.Context, sess session.Session, userID int64, text string, rep dialog.Reply) {
	if s.DB == nil {
		return
	}
	t := &domain.ConversationTurn{
		UserID:         userID,
		SessionID:      sess.ID,
		Turn:           sess.Turn,
		UserText:       text,
		ReplyText:      rep.Text(),
		Provider:       s.Provider,
		ReadyToPublish: rep.ReadyToPublish,
	}
	if err := repo.CreateConversationTurn(ctx, s.DB, t); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("conversation log write failed")
	}
}
