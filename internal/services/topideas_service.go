package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/logging"
	"github.com/tbourn/ideabot/internal/repo"
)

// TopIdeasService maintains the pinned leaderboard post in the channel.
type TopIdeasService struct {
	DB    *gorm.DB
	Board Board
	Limit int
}

// Refresh renders the top requests and edits the tracked post in place. A
// new post is sent and pinned when none is tracked or the old one is gone.
func (s *TopIdeasService) Refresh(ctx context.Context) error {
	ctx, span := otel.Tracer("services/TopIdeasService").Start(ctx, "Refresh")
	defer span.End()

	limit := s.Limit
	if limit <= 0 {
		limit = 10
	}
	rows, err := repo.ListRanked(ctx, s.DB, 0, limit)
	if err != nil {
		recordSpanError(span, err)
		return err
	}
	body := RenderTopIdeas(rows)
	l := logging.Ctx(ctx)

	prev, err := repo.GetSystemMessage(ctx, s.DB, domain.SystemMessageTopIdeas)
	switch {
	case err == nil:
		err = s.Board.EditHTML(ctx, prev.ChatID, prev.MessageID, body)
		if err == nil || errors.Is(err, ErrChannelNotModified) {
			return nil
		}
		l.Warn().Err(err).Int("message_id", prev.MessageID).Msg("top ideas edit failed; posting a new board")
	case !errors.Is(err, repo.ErrNotFound):
		recordSpanError(span, err)
		return err
	}

	chatID, msgID, err := s.Board.PostHTML(ctx, body)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if err := s.Board.Pin(ctx, chatID, msgID); err != nil {
		l.Warn().Err(err).Int("message_id", msgID).Msg("pin top ideas failed")
	}
	return repo.UpsertSystemMessage(ctx, s.DB, domain.SystemMessageTopIdeas, chatID, msgID)
}

// RenderTopIdeas formats the leaderboard as Telegram HTML.
func RenderTopIdeas(rows []domain.FeatureRequest) string {
	var b strings.Builder
	b.WriteString("🏆 <b>Top ideas</b>\n\n")
	if len(rows) == 0 {
		b.WriteString("No ideas yet. Be the first to submit one!")
		return b.String()
	}
	for i, r := range rows {
		star := ""
		if r.HasPriority {
			star = " ⭐"
		}
		fmt.Fprintf(&b, "%d. <b>%s</b>%s (%+d)\n", i+1, html.EscapeString(r.Title), star, r.VoteCount)
	}
	return strings.TrimRight(b.String(), "\n")
}
