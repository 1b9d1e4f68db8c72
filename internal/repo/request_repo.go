// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// FeatureRequest model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition.
//
// Error semantics:
//   - When a request is not found, functions return ErrNotFound.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/ideabot/internal/domain"
)

// CreateRequest inserts r. The caller assigns r.ID.
func CreateRequest(ctx context.Context, db *gorm.DB, r *domain.FeatureRequest) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = domain.StatusPending
	}
	return db.WithContext(ctx).Create(r).Error
}

// GetRequest fetches a non-deleted request by id, or ErrNotFound.
func GetRequest(ctx context.Context, db *gorm.DB, id int64) (*domain.FeatureRequest, error) {
	var r domain.FeatureRequest
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRequestForUpdate is GetRequest under a row lock (SELECT ... FOR UPDATE)
// held until tx ends. Every ledger mutation takes it first, so tally
// recomputes on one request are serialized. SQLite ignores the clause; its
// single writer already serializes.
func GetRequestForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*domain.FeatureRequest, error) {
	var r domain.FeatureRequest
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		Where("id = ?", id).
		First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// BindChannelMessage stores the channel post identity and marks the request
// published. Returns ErrNotFound if no row was updated.
func BindChannelMessage(ctx context.Context, db *gorm.DB, id, chatID int64, messageID int) error {
	res := db.WithContext(ctx).
		Model(&domain.FeatureRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"channel_chat_id":    chatID,
			"channel_message_id": messageID,
			"status":             domain.StatusPublished,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetVoteCount persists the recomputed tally as the cached vote_count.
func SetVoteCount(ctx context.Context, db *gorm.DB, id int64, total int) error {
	return db.WithContext(ctx).
		Model(&domain.FeatureRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{"vote_count": total, "updated_at": time.Now().UTC()}).Error
}

// AddPriorityBoost atomically increases the stored boost of a request.
func AddPriorityBoost(ctx context.Context, db *gorm.DB, id int64, inc int) error {
	res := db.WithContext(ctx).
		Model(&domain.FeatureRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"priority_boost": gorm.Expr("priority_boost + ?", inc),
			"has_priority":   true,
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountPublished returns the number of published requests.
func CountPublished(ctx context.Context, db *gorm.DB) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.FeatureRequest{}).
		Where("status = ?", domain.StatusPublished).
		Count(&n).Error
	return n, err
}

// ListRanked returns published requests ordered by tally (highest first),
// oldest first among ties.
func ListRanked(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.FeatureRequest, error) {
	var out []domain.FeatureRequest
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPublished).
		Order("vote_count DESC").
		Order("created_at ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ListRecent returns up to limit published requests, newest first.
func ListRecent(ctx context.Context, db *gorm.DB, limit int) ([]domain.FeatureRequest, error) {
	var out []domain.FeatureRequest
	err := db.WithContext(ctx).
		Where("status = ?", domain.StatusPublished).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
