package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/ideabot/internal/domain"
)

// CreateConversationTurn appends an analytics record.
func CreateConversationTurn(ctx context.Context, db *gorm.DB, t *domain.ConversationTurn) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(t).Error
}

// GetSystemMessage returns the tracked post of the given type, or ErrNotFound.
func GetSystemMessage(ctx context.Context, db *gorm.DB, typ string) (*domain.SystemMessage, error) {
	var m domain.SystemMessage
	if err := db.WithContext(ctx).Where("type = ?", typ).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertSystemMessage stores the post identity for typ, replacing any previous one.
func UpsertSystemMessage(ctx context.Context, db *gorm.DB, typ string, chatID int64, messageID int) error {
	m := &domain.SystemMessage{Type: typ, ChatID: chatID, MessageID: messageID, UpdatedAt: time.Now().UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}},
			DoUpdates: clause.AssignmentColumns([]string{"chat_id", "message_id", "updated_at"}),
		}).
		Create(m).Error
}
