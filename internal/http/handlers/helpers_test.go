package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/http/middleware"
	"github.com/tbourn/ideabot/internal/repo"
	"github.com/tbourn/ideabot/internal/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
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

// fakeChannel satisfies services.Publisher and services.Syncer.
type fakeChannel struct {
	mu      sync.Mutex
	postErr error
	posts   int
	syncs   []domain.Tally
}

func (f *fakeChannel) PostRequest(context.Context, *domain.FeatureRequest, domain.Tally) (int64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return 0, 0, f.postErr
	}
	f.posts++
	return -100123, 700 + f.posts, nil
}

func (f *fakeChannel) SyncTally(_ context.Context, _ int64, _ int, _ *domain.FeatureRequest, t domain.Tally) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, t)
	return nil
}

type fakeBoard struct{ err error }

func (b fakeBoard) Refresh(context.Context) error { return b.err }

type idemRecord struct {
	user, scope, key string
	requestID        int64
	status           int
}

type fakeRecorder struct{ recs []idemRecord }

func (f *fakeRecorder) Record(_ context.Context, user, scope, key string, id int64, status int) error {
	f.recs = append(f.recs, idemRecord{user, scope, key, id, status})
	return nil
}

type testEnv struct {
	db      *gorm.DB
	channel *fakeChannel
	idem    *fakeRecorder
	router  *gin.Engine
	// prior is what the idempotency lookup reports for any key.
	prior middleware.Replay
}

// newTestEnv wires real services over sqlite with a fake channel. replay,
// when non-zero, is injected as the id of an earlier successful attempt;
// tests may change env.prior afterwards.
func newTestEnv(t *testing.T, board BoardRefresher, replay int64) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	ch := &fakeChannel{}
	rec := &fakeRecorder{}
	h := New(Deps{
		Publisher: &services.PublishService{DB: db, IDs: &seqIDs{}, Channel: ch},
		Requests:  &services.RequestService{DB: db},
		Ledger:    &services.LedgerService{DB: db, Boosts: map[string]int{domain.KindPriority: 10}},
		Renderer:  &services.TallyRenderer{DB: db, Channel: ch},
		Board:     board,
		Idem:      rec,
	})

	env := &testEnv{db: db, channel: ch, idem: rec}
	if replay != 0 {
		env.prior = middleware.Replay{RequestID: replay, Status: http.StatusCreated}
	}

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{
		Scope: func(*gin.Context) string { return "submit" },
	}, func(context.Context, string, string, string, time.Time) (middleware.Replay, bool, error) {
		return env.prior, env.prior.RequestID != 0, nil
	}))
	r.POST("/submit", h.Submit)
	r.GET("/requests", h.ListRequests)
	r.GET("/requests/:id", h.GetRequest)
	r.POST("/requests/:id/votes", h.CastVote)
	r.DELETE("/requests/:id/votes/:voter_id", h.RemoveVote)
	r.POST("/payments", h.ApplyPayment)
	r.POST("/top/refresh", h.RefreshTop)

	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// submit publishes a valid request through the API and returns its id.
func (e *testEnv) submit(t *testing.T, title string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/submit", SubmitRequest{
		Title:       title,
		Description: "a sufficiently long description",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	return decode[SubmitResponse](t, w).RequestID
}

var errBoom = errors.New("boom")
