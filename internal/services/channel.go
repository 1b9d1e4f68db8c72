package services

import (
	"context"

	"github.com/tbourn/ideabot/internal/domain"
)

// Publisher posts a new request to the channel with its voting controls and
// returns the identity of the created post.
type Publisher interface {
	PostRequest(ctx context.Context, req *domain.FeatureRequest, tally domain.Tally) (chatID int64, messageID int, err error)
}

// Syncer re-renders the tally shown on an existing post. Implementations
// return ErrChannelNotModified or ErrChannelMessageGone for those outcomes.
type Syncer interface {
	SyncTally(ctx context.Context, chatID int64, messageID int, req *domain.FeatureRequest, tally domain.Tally) error
}

// Board manages bot-owned HTML posts that are edited in place and pinned.
type Board interface {
	PostHTML(ctx context.Context, html string) (chatID int64, messageID int, err error)
	EditHTML(ctx context.Context, chatID int64, messageID int, html string) error
	Pin(ctx context.Context, chatID int64, messageID int) error
}
