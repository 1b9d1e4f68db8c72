package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/ideabot/internal/domain"
)

// FindVote returns the vote of voterID on requestID, or ErrNotFound.
func FindVote(ctx context.Context, db *gorm.DB, requestID, voterID int64) (*domain.Vote, error) {
	var v domain.Vote
	err := db.WithContext(ctx).
		Where("request_id = ? AND voter_id = ?", requestID, voterID).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// InsertVote records a vote unless one already exists for the pair. The
// uniqueness check is the (request_id, voter_id) index itself, so inserted
// is false when a concurrent writer got there first.
func InsertVote(ctx context.Context, db *gorm.DB, requestID, voterID int64, direction string) (inserted bool, err error) {
	now := time.Now().UTC()
	v := &domain.Vote{
		ID:        uuid.NewString(),
		RequestID: requestID,
		VoterID:   voterID,
		Direction: direction,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := db.WithContext(ctx).
		Omit("Request").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "request_id"}, {Name: "voter_id"}},
			DoNothing: true,
		}).
		Create(v)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FlipVote changes the direction of vote id from -> to as a single row
// update. It reports false when the row no longer holds the from direction.
func FlipVote(ctx context.Context, db *gorm.DB, id, from, to string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Vote{}).
		Where("id = ? AND direction = ?", id, from).
		Updates(map[string]any{"direction": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteVote removes the vote of voterID on requestID. Absence is not an error.
func DeleteVote(ctx context.Context, db *gorm.DB, requestID, voterID int64) (bool, error) {
	res := db.WithContext(ctx).
		Where("request_id = ? AND voter_id = ?", requestID, voterID).
		Delete(&domain.Vote{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountVotes returns the number of up and down votes on a request.
func CountVotes(ctx context.Context, db *gorm.DB, requestID int64) (up, down int, err error) {
	var rows []struct {
		Direction string
		N         int64
	}
	err = db.WithContext(ctx).
		Model(&domain.Vote{}).
		Select("direction, COUNT(*) AS n").
		Where("request_id = ?", requestID).
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	for _, r := range rows {
		switch r.Direction {
		case domain.DirectionUp:
			up = int(r.N)
		case domain.DirectionDown:
			down = int(r.N)
		}
	}
	return up, down, nil
}
