package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/ideabot/internal/domain"
)

// GetPaymentByCharge returns the payment recorded for chargeID, or ErrNotFound.
func GetPaymentByCharge(ctx context.Context, db *gorm.DB, chargeID string) (*domain.Payment, error) {
	var p domain.Payment
	if err := db.WithContext(ctx).Where("charge_id = ?", chargeID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertPayment records p unless its charge id is already present. The
// unique index on charge_id decides; inserted is false for a redelivery.
func InsertPayment(ctx context.Context, db *gorm.DB, p *domain.Payment) (inserted bool, err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.BoostApplied = false
	p.AppliedAt = nil
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "charge_id"}},
			DoNothing: true,
		}).
		Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimBoost marks the payment's boost as applied. Only one caller can win
// the claim for a charge id; claimed is false when it was already applied.
func ClaimBoost(ctx context.Context, db *gorm.DB, chargeID string) (claimed bool, err error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("charge_id = ? AND boost_applied = ?", chargeID, false).
		Updates(map[string]any{"boost_applied": true, "applied_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
