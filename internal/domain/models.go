// Package domain defines the persistence models for feature requests, votes,
// payments, and conversation analytics. These types are mapped with GORM and
// form the ledger that backs every displayed tally.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Request lifecycle states.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
)

// FeatureRequest is an idea submitted by a user and published to the channel.
//
// Fields:
//   - ID: snowflake id, assigned by the repository before insert.
//   - AuthorID / AuthorName: Telegram user of the submitter (AuthorID nullable for HTTP submissions).
//   - Title / Description / Tags / Domain: submitted content; Tags is a comma-joined list.
//   - VoteCount: cached tally (ups - downs + PriorityBoost), always recomputed.
//   - PriorityBoost: sum of all applied paid boosts, stored explicitly.
//   - HasPriority: true once any boost was applied.
//   - Status: "pending" until the channel post is bound, then "published".
//   - ChannelChatID / ChannelMessageID: identity of the channel post (nullable).
//   - CreatedAt / UpdatedAt / DeletedAt: managed by GORM; rows are soft-deleted.
type FeatureRequest struct {
	ID               int64          `json:"id,string"             gorm:"primaryKey;autoIncrement:false"`
	AuthorID         *int64         `json:"author_id,omitempty"   gorm:"index"`
	AuthorName       string         `json:"author_name"           gorm:"type:varchar(128);not null;default:''"`
	Title            string         `json:"title"                 gorm:"type:varchar(255);not null"`
	Description      string         `json:"description"           gorm:"type:text;not null"`
	Tags             string         `json:"tags"                  gorm:"type:varchar(512);not null;default:''"`
	Domain           string         `json:"domain,omitempty"      gorm:"type:varchar(64);not null;default:''"`
	VoteCount        int            `json:"vote_count"            gorm:"not null;default:0;index:idx_requests_rank"`
	PriorityBoost    int            `json:"priority_boost"        gorm:"not null;default:0"`
	HasPriority      bool           `json:"has_priority"          gorm:"not null;default:false"`
	Status           string         `json:"status"                gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','published')"`
	ChannelChatID    *int64         `json:"channel_chat_id,omitempty"`
	ChannelMessageID *int           `json:"channel_message_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                     gorm:"index"`
}

// TableName returns the database table name for FeatureRequest.
func (FeatureRequest) TableName() string { return "feature_requests" }

// Bound reports whether the request has a channel post to re-render.
func (r FeatureRequest) Bound() bool {
	return r.ChannelChatID != nil && r.ChannelMessageID != nil && *r.ChannelMessageID != 0
}

// Vote directions.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
)

// Vote relates one voter to one request. A voter has at most one vote per
// request (unique index); a repeat vote flips Direction in place and an
// unvote hard-deletes the row.
type Vote struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	RequestID int64     `json:"request_id" gorm:"not null;index;uniqueIndex:ux_votes_request_voter"`
	VoterID   int64     `json:"voter_id"   gorm:"not null;uniqueIndex:ux_votes_request_voter"`
	Direction string    `json:"direction"  gorm:"type:varchar(8);not null;check:direction IN ('up','down')"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Request is the voted request. Votes are cascade-deleted with it.
	Request FeatureRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Vote.
func (Vote) TableName() string { return "votes" }

// Payment kinds.
const (
	KindPriority = "priority"
)

// Payment records one completed external charge. ChargeID is unique, so a
// redelivered notification can never create a second row. BoostApplied
// flips to true in the same transaction that adds Boost to the request, which
// lets a retry finish a boost whose first attempt failed after the insert.
type Payment struct {
	ID               string     `json:"id"                 gorm:"type:char(36);primaryKey"`
	ChargeID         string     `json:"charge_id"          gorm:"type:varchar(255);not null;uniqueIndex:ux_payments_charge"`
	ProviderChargeID string     `json:"provider_charge_id" gorm:"type:varchar(255);not null;default:''"`
	RequestID        int64      `json:"request_id"         gorm:"not null;index"`
	PayerID          int64      `json:"payer_id"           gorm:"not null;index"`
	Amount           int        `json:"amount"             gorm:"not null"`
	Currency         string     `json:"currency"           gorm:"type:varchar(8);not null"`
	Kind             string     `json:"kind"               gorm:"type:varchar(32);not null"`
	Boost            int        `json:"boost"              gorm:"not null"`
	BoostApplied     bool       `json:"boost_applied"      gorm:"not null;default:false"`
	AppliedAt        *time.Time `json:"applied_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// ConversationTurn is a write-only analytics record of one exchange with
// the dialog provider.
type ConversationTurn struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID         int64     `json:"user_id"          gorm:"not null;index:idx_turns_session,priority:1"`
	SessionID      string    `json:"session_id"       gorm:"type:varchar(64);not null;index:idx_turns_session,priority:2"`
	Turn           int       `json:"turn"             gorm:"not null"`
	UserText       string    `json:"user_text"        gorm:"type:text;not null"`
	ReplyText      string    `json:"reply_text"       gorm:"type:text;not null"`
	Provider       string    `json:"provider"         gorm:"type:varchar(32);not null"`
	ReadyToPublish bool      `json:"ready_to_publish" gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for ConversationTurn.
func (ConversationTurn) TableName() string { return "conversation_turns" }

// SystemMessageTopIdeas is the SystemMessage type of the pinned leaderboard.
const SystemMessageTopIdeas = "top_ideas"

// SystemMessage tracks a bot-owned channel post that is edited in place.
type SystemMessage struct {
	Type      string    `json:"type"       gorm:"type:varchar(32);primaryKey"`
	ChatID    int64     `json:"chat_id"    gorm:"not null"`
	MessageID int       `json:"message_id" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SystemMessage.
func (SystemMessage) TableName() string { return "system_messages" }
