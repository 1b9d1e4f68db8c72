// Package services – PublishService
//
// This file implements the submission flow: validate, persist as pending,
// post to the channel with a zero tally, then bind the post and mark the
// request published. Validation performs no writes. A failed post leaves the
// request pending and unbound; the renderer skips such requests.
package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/logging"
	"github.com/tbourn/ideabot/internal/repo"
	"github.com/tbourn/ideabot/internal/search"
)

// Submission limits.
const (
	MinTitleRunes       = 3
	MaxTitleRunes       = 255
	MinDescriptionRunes = 10
	MaxDescriptionRunes = 3500
	MaxTags             = 10
	MaxTagRunes         = 32
	similarLimit        = 3
)

// IDGenerator issues request ids.
type IDGenerator interface {
	Next() int64
}

// PublishService turns a validated submission into a published channel post.
type PublishService struct {
	DB      *gorm.DB
	IDs     IDGenerator
	Channel Publisher

	// Index is optional; when nil no similar requests are reported.
	Index search.Index
}

// PublishInput is a submission from the bot or the HTTP API.
type PublishInput struct {
	AuthorID    *int64
	AuthorName  string
	Title       string
	Description string
	Tags        []string
	Domain      string
}

// PublishResult identifies the created request and its channel post.
type PublishResult struct {
	RequestID        int64
	ChannelChatID    int64
	ChannelMessageID int
	Similar          []int64
}

// Publish validates in, stores it, and posts it to the channel.
//
// Errors:
//   - *ValidationError (wrapping ErrContentTooShort / ErrInvalidInput): nothing written.
//   - ErrUpstream: the channel post failed; the request stays pending.
//   - any other error: the post exists but could not be bound.
func (s *PublishService) Publish(ctx context.Context, in PublishInput) (PublishResult, error) {
	tr := otel.Tracer("services/PublishService")
	ctx, span := tr.Start(ctx, "Publish")
	defer span.End()

	title, desc, tags, err := validateSubmission(in)
	if err != nil {
		return PublishResult{}, err
	}

	req := &domain.FeatureRequest{
		ID:          s.IDs.Next(),
		AuthorID:    in.AuthorID,
		AuthorName:  clip(strings.TrimSpace(in.AuthorName), 128),
		Title:       title,
		Description: desc,
		Tags:        strings.Join(tags, ","),
		Domain:      clip(strings.TrimSpace(in.Domain), 64),
		Status:      domain.StatusPending,
	}
	span.SetAttributes(attribute.Int64("request.id", req.ID))

	if err := repo.CreateRequest(ctx, s.DB, req); err != nil {
		recordSpanError(span, err)
		return PublishResult{}, err
	}
	res := PublishResult{RequestID: req.ID}

	if s.Index != nil {
		for _, m := range s.Index.Similar(title+" "+desc, similarLimit) {
			if m.ID != req.ID {
				res.Similar = append(res.Similar, m.ID)
			}
		}
	}

	err = s.postAndBind(ctx, span, req, domain.NewTally(req.ID, 0, 0, 0), &res)
	return res, err
}

// Resume posts a stored request whose earlier channel post failed, and binds
// it. A request that is already bound is returned as is, without posting.
// Errors are those of Publish, plus ErrRequestNotFound.
func (s *PublishService) Resume(ctx context.Context, requestID int64) (PublishResult, error) {
	ctx, span := otel.Tracer("services/PublishService").Start(ctx, "Resume",
		trace.WithAttributes(attribute.Int64("request.id", requestID)))
	defer span.End()

	req, err := repo.GetRequest(ctx, s.DB, requestID)
	if err != nil {
		recordSpanError(span, err)
		return PublishResult{}, mapNotFound(err)
	}
	res := PublishResult{RequestID: req.ID}
	if req.Bound() {
		res.ChannelChatID, res.ChannelMessageID = *req.ChannelChatID, *req.ChannelMessageID
		return res, nil
	}
	tally, err := currentTally(ctx, s.DB, req)
	if err != nil {
		recordSpanError(span, err)
		return res, err
	}
	err = s.postAndBind(ctx, span, req, tally, &res)
	return res, err
}

// postAndBind posts req to the channel and stores the post on the row. A
// failed post wraps ErrUpstream; a failed bind leaves res carrying the post.
func (s *PublishService) postAndBind(ctx context.Context, span trace.Span, req *domain.FeatureRequest, tally domain.Tally, res *PublishResult) error {
	l := logging.Ctx(ctx).With().Int64("feature_request_id", req.ID).Logger()

	chatID, msgID, err := s.Channel.PostRequest(ctx, req, tally)
	if err != nil {
		l.Error().Err(err).Msg("channel post failed; request left pending")
		recordSpanError(span, err)
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	res.ChannelChatID, res.ChannelMessageID = chatID, msgID

	if err := repo.BindChannelMessage(ctx, s.DB, req.ID, chatID, msgID); err != nil {
		l.Error().Err(err).Int64("chat_id", chatID).Int("message_id", msgID).Msg("bind channel message failed")
		recordSpanError(span, err)
		return err
	}

	if s.Index != nil {
		s.Index.Add(req.ID, req.Title+" "+req.Description)
	}
	span.SetAttributes(attribute.Int("channel.message_id", msgID), attribute.Int("similar", len(res.Similar)))
	l.Info().Int("message_id", msgID).Msg("request published")
	return nil
}

// WarmIndex loads up to limit recently published requests into the index.
func (s *PublishService) WarmIndex(ctx context.Context, limit int) (int, error) {
	if s.Index == nil {
		return 0, nil
	}
	_, span := otel.Tracer("services/PublishService").Start(ctx, "WarmIndex",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	rows, err := repo.ListRecent(ctx, s.DB, limit)
	if err != nil {
		return 0, err
	}
	// Oldest first so eviction order matches publish order.
	for i := len(rows) - 1; i >= 0; i-- {
		s.Index.Add(rows[i].ID, rows[i].Title+" "+rows[i].Description)
	}
	return len(rows), nil
}

// NormalizeTags lower-cases, trims, strips a leading '#', and de-duplicates
// tags, preserving first-seen order. Empty tags are dropped.
func NormalizeTags(tags []string) []string {
	lower := cases.Lower(language.Und)
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = whitespaceRE.ReplaceAllString(strings.TrimSpace(t), " ")
		t = strings.TrimPrefix(t, "#")
		t = lower.String(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func validateSubmission(in PublishInput) (title, desc string, tags []string, err error) {
	title = whitespaceRE.ReplaceAllString(strings.TrimSpace(in.Title), " ")
	desc = strings.TrimSpace(in.Description)

	switch n := utf8.RuneCountInString(title); {
	case n < MinTitleRunes:
		return "", "", nil, &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at least %d characters", MinTitleRunes), Err: ErrContentTooShort}
	case n > MaxTitleRunes:
		return "", "", nil, &ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", MaxTitleRunes), Err: ErrInvalidInput}
	}
	switch n := utf8.RuneCountInString(desc); {
	case n < MinDescriptionRunes:
		return "", "", nil, &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at least %d characters", MinDescriptionRunes), Err: ErrContentTooShort}
	case n > MaxDescriptionRunes:
		return "", "", nil, &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionRunes), Err: ErrInvalidInput}
	}

	tags = NormalizeTags(in.Tags)
	if len(tags) > MaxTags {
		return "", "", nil, &ValidationError{Field: "tags", Reason: fmt.Sprintf("at most %d tags allowed", MaxTags), Err: ErrInvalidInput}
	}
	for _, t := range tags {
		if utf8.RuneCountInString(t) > MaxTagRunes || strings.Contains(t, ",") {
			return "", "", nil, &ValidationError{Field: "tags", Reason: fmt.Sprintf("tag %q is invalid (max %d characters, no commas)", t, MaxTagRunes), Err: ErrInvalidInput}
		}
	}
	return title, desc, tags, nil
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	if n > 0 && utf8.RuneCountInString(s) > n {
		return string([]rune(s)[:n])
	}
	return s
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
