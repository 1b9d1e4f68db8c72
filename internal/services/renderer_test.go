package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/ideabot/internal/domain"
)

func TestRenderAndSync_SkipsUnboundAndMissing(t *testing.T) {
	db := newTestDB(t)
	ch := &fakeChannel{}
	r := &TallyRenderer{DB: db, Channel: ch}
	seedRequest(t, db, 1, false)

	r.RenderAndSync(context.Background(), 1, domain.NewTally(1, 1, 0, 0))
	r.RenderAndSync(context.Background(), 404, domain.Tally{})
	if len(ch.syncs) != 0 {
		t.Fatalf("unbound or missing requests must not be synced: %+v", ch.syncs)
	}
}

func TestRenderAndSync_SyncsBoundPost(t *testing.T) {
	db := newTestDB(t)
	ch := &fakeChannel{}
	r := &TallyRenderer{DB: db, Channel: ch}
	seedRequest(t, db, 3, true)

	tally := domain.NewTally(3, 2, 1, 10)
	r.RenderAndSync(context.Background(), 3, tally)
	if len(ch.syncs) != 1 {
		t.Fatalf("expected one sync, got %d", len(ch.syncs))
	}
	got := ch.syncs[0]
	if got.ChatID != -100123 || got.MessageID != 1003 || got.Tally != tally {
		t.Fatalf("unexpected sync call: %+v", got)
	}
}

func TestRenderAndSync_ToleratesChannelErrors(t *testing.T) {
	db := newTestDB(t)
	seedRequest(t, db, 1, true)
	ledger := newLedger(db)

	for _, e := range []error{ErrChannelNotModified, ErrChannelMessageGone, errors.New("network")} {
		ch := &fakeChannel{syncErr: e}
		r := &TallyRenderer{DB: db, Channel: ch}

		tally, err := ledger.RemoveVote(context.Background(), 1, 5)
		if err != nil {
			t.Fatalf("ledger op: %v", err)
		}
		r.RenderAndSync(context.Background(), 1, tally) // must not panic or propagate
		if len(ch.syncs) != 1 {
			t.Fatalf("%v: expected one attempt, got %d", e, len(ch.syncs))
		}
	}
}
