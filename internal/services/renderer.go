package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/logging"
	"github.com/tbourn/ideabot/internal/repo"
)

// TallyRenderer keeps the channel post of a request in sync with its tally.
// It never returns an error: the ledger mutation that triggered a render has
// already committed and must not appear to fail.
type TallyRenderer struct {
	DB      *gorm.DB
	Channel Syncer
}

// RenderAndSync re-renders the post bound to requestID.
//
// Outcomes:
//   - request missing or without a bound post: skipped (debug log).
//   - ErrChannelNotModified: success.
//   - ErrChannelMessageGone or any other failure: warning.
func (r *TallyRenderer) RenderAndSync(ctx context.Context, requestID int64, tally domain.Tally) {
	l := logging.Ctx(ctx).With().Int64("feature_request_id", requestID).Int("tally", tally.Total).Logger()

	req, err := repo.GetRequest(ctx, r.DB, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Debug().Msg("render skipped: request not found")
		} else {
			l.Warn().Err(err).Msg("render skipped: load request failed")
		}
		channelSyncTotal.WithLabelValues(resultSkipped).Inc()
		return
	}
	if !req.Bound() {
		l.Debug().Msg("render skipped: request has no channel message")
		channelSyncTotal.WithLabelValues(resultSkipped).Inc()
		return
	}

	err = r.Channel.SyncTally(ctx, *req.ChannelChatID, *req.ChannelMessageID, req, tally)
	switch {
	case err == nil, errors.Is(err, ErrChannelNotModified):
		channelSyncTotal.WithLabelValues(resultOK).Inc()
	case errors.Is(err, ErrChannelMessageGone):
		l.Warn().Err(err).Int("message_id", *req.ChannelMessageID).Msg("channel message gone; tally not re-rendered")
		channelSyncTotal.WithLabelValues(resultNotFound).Inc()
	default:
		l.Warn().Err(err).Msg("channel re-render failed")
		channelSyncTotal.WithLabelValues(resultError).Inc()
	}
}
