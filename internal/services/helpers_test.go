package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedRequest inserts a published request bound to a channel post unless
// bound is false.
func seedRequest(t *testing.T, db *gorm.DB, id int64, bound bool) *domain.FeatureRequest {
	t.Helper()
	r := &domain.FeatureRequest{
		ID:          id,
		Title:       fmt.Sprintf("Request %d", id),
		Description: "a sufficiently long description",
		Status:      domain.StatusPending,
	}
	if bound {
		chat, msg := int64(-100123), int(id)+1000
		r.ChannelChatID, r.ChannelMessageID = &chat, &msg
		r.Status = domain.StatusPublished
	}
	if err := repo.CreateRequest(context.Background(), db, r); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return r
}

func countPayments(t *testing.T, db *gorm.DB, requestID int64) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Payment{}).Where("request_id = ?", requestID).Count(&n).Error; err != nil {
		t.Fatalf("count payments: %v", err)
	}
	return n
}

func newLedger(db *gorm.DB) *LedgerService {
	return &LedgerService{DB: db, Boosts: map[string]int{domain.KindPriority: 10}}
}

type seqIDs struct {
	mu sync.Mutex
	n  int64
}

func (s *seqIDs) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

type syncCall struct {
	ChatID    int64
	MessageID int
	Tally     domain.Tally
}

// fakeChannel records calls and returns the configured errors.
type fakeChannel struct {
	mu sync.Mutex

	postErr error
	syncErr error
	editErr error
	pinErr  error

	nextMsg int
	posts   []*domain.FeatureRequest
	syncs   []syncCall
	html    []string
	edits   []string
	pins    []int
}

func (f *fakeChannel) PostRequest(_ context.Context, req *domain.FeatureRequest, _ domain.Tally) (int64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return 0, 0, f.postErr
	}
	f.nextMsg++
	f.posts = append(f.posts, req)
	return -100123, 500 + f.nextMsg, nil
}

func (f *fakeChannel) SyncTally(_ context.Context, chatID int64, messageID int, _ *domain.FeatureRequest, t domain.Tally) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, syncCall{ChatID: chatID, MessageID: messageID, Tally: t})
	return f.syncErr
}

func (f *fakeChannel) PostHTML(_ context.Context, html string) (int64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return 0, 0, f.postErr
	}
	f.nextMsg++
	f.html = append(f.html, html)
	return -100123, 900 + f.nextMsg, nil
}

func (f *fakeChannel) EditHTML(_ context.Context, _ int64, _ int, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, html)
	return f.editErr
}

func (f *fakeChannel) Pin(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pins = append(f.pins, messageID)
	return f.pinErr
}

var errBoom = errors.New("boom")

// failUpdatesOn makes every UPDATE on table fail while *on is true.
func failUpdatesOn(t *testing.T, db *gorm.DB, table string, on *bool) {
	t.Helper()
	err := db.Callback().Update().Before("gorm:update").Register("test:fail_"+table, func(tx *gorm.DB) {
		if *on && tx.Statement.Table == table {
			_ = tx.AddError(errBoom)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
}
