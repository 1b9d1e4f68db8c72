// Package services – RequestService
//
// This file implements the read side of the ledger: fetching a request with
// its live tally and listing published requests in rank order with
// pagination. Rank is the cached vote_count, which every ledger mutation
// recomputes inside its own transaction.
package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/repo"
)

// RequestService provides read-only request queries.
type RequestService struct {
	DB *gorm.DB
}

// Get returns a request and its tally derived from the vote rows.
func (s *RequestService) Get(ctx context.Context, id int64) (*domain.FeatureRequest, domain.Tally, error) {
	ctx, span := otel.Tracer("services/RequestService").Start(ctx, "Get",
		trace.WithAttributes(attribute.Int64("request.id", id)))
	defer span.End()

	db := s.DB.WithContext(ctx)
	req, err := repo.GetRequest(ctx, db, id)
	if err != nil {
		return nil, domain.Tally{}, mapNotFound(err)
	}
	t, err := currentTally(ctx, db, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, domain.Tally{}, err
	}
	return req, t, nil
}

// ListPage returns a page of published requests, highest tally first.
// It applies defaults for invalid page/pageSize and returns the total count.
func (s *RequestService) ListPage(ctx context.Context, page, pageSize int) ([]domain.FeatureRequest, int64, error) {
	ctx, span := otel.Tracer("services/RequestService").Start(ctx, "ListPage",
		trace.WithAttributes(attribute.Int("page", page), attribute.Int("page_size", pageSize)))
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountPublished(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.FeatureRequest{}, 0, nil
	}

	items, err := repo.ListRanked(ctx, s.DB, offset, pageSize)
	return items, total, err
}

// Stats returns the published count and latest update time, used for ETags.
func (s *RequestService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return repo.RequestsStats(ctx, s.DB)
}
