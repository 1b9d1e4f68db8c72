package telegram

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/ideabot/internal/config"
	"github.com/tbourn/ideabot/internal/dialog"
	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/extract"
	"github.com/tbourn/ideabot/internal/repo"
	"github.com/tbourn/ideabot/internal/services"
	"github.com/tbourn/ideabot/internal/session"
)

const testChannel = int64(-100123)

// fakeAPI records every Bot API call.
type fakeAPI struct {
	mu           sync.Mutex
	calls        []string
	sent         []*bot.SendMessageParams
	edits        []*bot.EditMessageTextParams
	pins         []*bot.PinChatMessageParams
	answers      []*bot.AnswerCallbackQueryParams
	actions      []*bot.SendChatActionParams
	invoices     []*bot.SendInvoiceParams
	preCheckouts []*bot.AnswerPreCheckoutQueryParams
	nextID       int

	sendErr error
	editErr error
	fileURL string
}

func (f *fakeAPI) record(name string) {
	f.calls = append(f.calls, name)
}

func (f *fakeAPI) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("send")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, p)
	f.nextID++
	chatID, _ := p.ChatID.(int64)
	return &models.Message{ID: 500 + f.nextID, Chat: models.Chat{ID: chatID}, Text: p.Text}, nil
}

func (f *fakeAPI) EditMessageText(_ context.Context, p *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("edit")
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.edits = append(f.edits, p)
	return &models.Message{ID: p.MessageID}, nil
}

func (f *fakeAPI) PinChatMessage(_ context.Context, p *bot.PinChatMessageParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pin")
	f.pins = append(f.pins, p)
	return true, nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, p *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("answer")
	f.answers = append(f.answers, p)
	return true, nil
}

func (f *fakeAPI) SendChatAction(_ context.Context, p *bot.SendChatActionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("action")
	f.actions = append(f.actions, p)
	return true, nil
}

func (f *fakeAPI) SendInvoice(_ context.Context, p *bot.SendInvoiceParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("invoice")
	f.invoices = append(f.invoices, p)
	return &models.Message{ID: 1}, nil
}

func (f *fakeAPI) AnswerPreCheckoutQuery(_ context.Context, p *bot.AnswerPreCheckoutQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pre_checkout")
	f.preCheckouts = append(f.preCheckouts, p)
	return true, nil
}

func (f *fakeAPI) GetFile(_ context.Context, p *bot.GetFileParams) (*models.File, error) {
	return &models.File{FileID: p.FileID, FilePath: "documents/" + p.FileID}, nil
}

func (f *fakeAPI) FileDownloadLink(file *models.File) string {
	return f.fileURL + "/" + file.FilePath
}

// texts returns the text of every message sent to chatID.
func (f *fakeAPI) texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.sent {
		if id, _ := p.ChatID.(int64); id == chatID {
			out = append(out, p.Text)
		}
	}
	return out
}

type fakeDialog struct {
	mu    sync.Mutex
	reply dialog.Reply
	err   error
	got   []string
}

func (d *fakeDialog) Reply(_ context.Context, _ int64, text string) (dialog.Reply, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.got = append(d.got, text)
	return d.reply, d.err
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

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tg_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

type testEnv struct {
	h      *Handler
	api    *fakeAPI
	dialog *fakeDialog
	db     *gorm.DB
}

// newTestEnv wires a Handler over an in-memory DB with callbacks run inline.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	api := &fakeAPI{}
	dlg := &fakeDialog{reply: dialog.Reply{Messages: []string{"Tell me more"}}}
	ch := &Channel{API: api, ChatID: testChannel, PriorityStars: 300, Timeout: time.Second}
	prio := config.PriorityConfig{Boost: 10, Stars: 300, Currency: "XTR"}

	h := &Handler{
		API:       api,
		Ledger:    &services.LedgerService{DB: db, Boosts: map[string]int{domain.KindPriority: prio.Boost}},
		Renderer:  &services.TallyRenderer{DB: db, Channel: ch},
		Publisher: &services.PublishService{DB: db, IDs: &seqIDs{}, Channel: ch},
		Relay: &services.RelayService{
			Dialog:   dlg,
			Sessions: session.NewMemoryStore(time.Minute),
			DB:       db,
			Provider: "fake",
			MaxText:  6000,
			Timeout:  time.Second,
		},
		Top:       &services.TopIdeasService{DB: db, Board: ch, Limit: 10},
		Extractor: extract.New(1, 1),
		Fetcher:   &extract.Fetcher{},
		Telegram:  config.TelegramConfig{AdminIDs: []int64{1}},
		Priority:  prio,
		spawn:     func(f func()) { f() },
	}
	return &testEnv{h: h, api: api, dialog: dlg, db: db}
}

func (e *testEnv) message(from int64, text string) *models.Update {
	return &models.Update{ID: 1, Message: &models.Message{
		ID:   10,
		From: &models.User{ID: from, Username: "user"},
		Chat: models.Chat{ID: from},
		Text: text,
	}}
}

func (e *testEnv) press(from int64, data string) *models.Update {
	return &models.Update{ID: 2, CallbackQuery: &models.CallbackQuery{
		ID:   "cb-1",
		From: models.User{ID: from},
		Data: data,
	}}
}

func mustEncode(t *testing.T, kind string, id int64) string {
	t.Helper()
	s, err := EncodeAction(Action{Kind: kind, RequestID: id})
	require.NoError(t, err)
	return s
}
