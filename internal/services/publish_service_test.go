package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/repo"
	"github.com/tbourn/ideabot/internal/search"
)

func countRequests(t *testing.T, svc *PublishService) int64 {
	t.Helper()
	var n int64
	if err := svc.DB.Unscoped().Model(&domain.FeatureRequest{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func newPublish(t *testing.T) (*PublishService, *fakeChannel) {
	ch := &fakeChannel{}
	return &PublishService{
		DB:      newTestDB(t),
		IDs:     &seqIDs{},
		Channel: ch,
		Index:   search.New(search.WithMinScore(0.3)),
	}, ch
}

func TestPublish_ShortTitleWritesNothing(t *testing.T) {
	svc, ch := newPublish(t)

	_, err := svc.Publish(context.Background(), PublishInput{Title: " ab ", Description: "long enough description"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "title" || !errors.Is(err, ErrContentTooShort) {
		t.Fatalf("expected title ValidationError, got %v", err)
	}
	if n := countRequests(t, svc); n != 0 {
		t.Fatalf("validation failure must not write, found %d rows", n)
	}
	if len(ch.posts) != 0 {
		t.Fatalf("validation failure must not post")
	}
}

func TestPublish_Validation(t *testing.T) {
	svc, _ := newPublish(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		in    PublishInput
		field string
		is    error
	}{
		{"short description", PublishInput{Title: "Dark mode", Description: "too short"}, "description", ErrContentTooShort},
		{"long description", PublishInput{Title: "Dark mode", Description: strings.Repeat("é", MaxDescriptionRunes+1)}, "description", ErrInvalidInput},
		{"long title", PublishInput{Title: strings.Repeat("x", MaxTitleRunes+1), Description: "long enough description"}, "title", ErrInvalidInput},
		{"too many tags", PublishInput{Title: "Dark mode", Description: "long enough description",
			Tags: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"}}, "tags", ErrInvalidInput},
		{"long tag", PublishInput{Title: "Dark mode", Description: "long enough description",
			Tags: []string{strings.Repeat("t", MaxTagRunes+1)}}, "tags", ErrInvalidInput},
		{"comma tag", PublishInput{Title: "Dark mode", Description: "long enough description",
			Tags: []string{"a,b"}}, "tags", ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Publish(ctx, tc.in)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field || !errors.Is(err, tc.is) {
				t.Fatalf("expected %s ValidationError wrapping %v, got %v", tc.field, tc.is, err)
			}
		})
	}
	if n := countRequests(t, svc); n != 0 {
		t.Fatalf("no rows expected, got %d", n)
	}
}

func TestPublish_DescriptionAtLimitIsAccepted(t *testing.T) {
	svc, ch := newPublish(t)
	res, err := svc.Publish(context.Background(), PublishInput{
		Title:       "Long form",
		Description: strings.Repeat("é", MaxDescriptionRunes),
	})
	if err != nil || res.ChannelMessageID == 0 || len(ch.posts) != 1 {
		t.Fatalf("description at the limit must publish: %+v, %v", res, err)
	}
}

func TestPublish_HappyPathAndSimilar(t *testing.T) {
	svc, ch := newPublish(t)
	ctx := context.Background()
	author := int64(42)

	res, err := svc.Publish(ctx, PublishInput{
		AuthorID:    &author,
		AuthorName:  "alice",
		Title:       "  Dark   mode ",
		Description: "Add a dark mode to the mobile app",
		Tags:        []string{"#UI", "ui", " Mobile "},
		Domain:      "app",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.RequestID != 1 || res.ChannelMessageID != 501 || res.ChannelChatID != -100123 || len(res.Similar) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	req, err := repo.GetRequest(ctx, svc.DB, res.RequestID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if req.Status != domain.StatusPublished || !req.Bound() || *req.ChannelMessageID != 501 {
		t.Fatalf("request not bound: %+v", req)
	}
	if req.Title != "Dark mode" || req.Tags != "ui,mobile" || req.AuthorName != "alice" || *req.AuthorID != 42 {
		t.Fatalf("unexpected stored fields: %+v", req)
	}
	if len(ch.posts) != 1 {
		t.Fatalf("expected one post, got %d", len(ch.posts))
	}

	res2, err := svc.Publish(ctx, PublishInput{Title: "Dark mode for mobile", Description: "Add a dark mode to the mobile app please"})
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}
	if len(res2.Similar) != 1 || res2.Similar[0] != res.RequestID {
		t.Fatalf("expected similar=[%d], got %+v", res.RequestID, res2.Similar)
	}
}

func TestPublish_PostFailureLeavesPending(t *testing.T) {
	svc, ch := newPublish(t)
	ch.postErr = errors.New("telegram down")
	ctx := context.Background()

	res, err := svc.Publish(ctx, PublishInput{Title: "Export CSV", Description: "Export all requests as CSV"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	req, gerr := repo.GetRequest(ctx, svc.DB, res.RequestID)
	if gerr != nil {
		t.Fatalf("get: %v", gerr)
	}
	if req.Status != domain.StatusPending || req.Bound() {
		t.Fatalf("request must stay pending and unbound: %+v", req)
	}
	if got := svc.Index.Similar("Export CSV requests", 3); got != nil {
		t.Fatalf("unpublished request must not be indexed: %+v", got)
	}
}

func TestPublish_BindFailureAfterPost(t *testing.T) {
	svc, ch := newPublish(t)
	var logs bytes.Buffer
	l := zerolog.New(&logs).With().Str("request_id", "rid-1").Logger()
	ctx := l.WithContext(context.Background())

	fail := true
	failUpdatesOn(t, svc.DB, "feature_requests", &fail)

	res, err := svc.Publish(ctx, PublishInput{Title: "Export CSV", Description: "Export all requests as CSV"})
	if err == nil || errors.Is(err, ErrUpstream) {
		t.Fatalf("expected a bind error, got %v", err)
	}
	if res.RequestID == 0 || res.ChannelMessageID != 501 || len(ch.posts) != 1 {
		t.Fatalf("result must carry the posted message: %+v (posts=%d)", res, len(ch.posts))
	}

	req, gerr := repo.GetRequest(ctx, svc.DB, res.RequestID)
	if gerr != nil {
		t.Fatalf("get: %v", gerr)
	}
	if req.Status != domain.StatusPending || req.Bound() {
		t.Fatalf("request must stay pending and unbound: %+v", req)
	}

	r := &TallyRenderer{DB: svc.DB, Channel: ch}
	r.RenderAndSync(ctx, res.RequestID, domain.NewTally(res.RequestID, 1, 0, 0))
	if len(ch.syncs) != 0 {
		t.Fatalf("unbound request must not be synced: %+v", ch.syncs)
	}

	line := logs.String()
	if !strings.Contains(line, `"feature_request_id":`) || strings.Count(line, `"request_id":`) != strings.Count(line, "\n") {
		t.Fatalf("each log line must carry request_id once: %s", line)
	}
}

func TestPublish_ResumeAfterPostFailure(t *testing.T) {
	svc, ch := newPublish(t)
	ch.postErr = errors.New("telegram down")
	ctx := context.Background()

	first, err := svc.Publish(ctx, PublishInput{Title: "Export CSV", Description: "Export all requests as CSV"})
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	if _, err := svc.Resume(ctx, first.RequestID); !errors.Is(err, ErrUpstream) {
		t.Fatalf("resume while the channel is down: %v", err)
	}

	ch.postErr = nil
	res, err := svc.Resume(ctx, first.RequestID)
	if err != nil || res.RequestID != first.RequestID || res.ChannelMessageID != 501 {
		t.Fatalf("resume: %+v, %v", res, err)
	}
	req, _ := repo.GetRequest(ctx, svc.DB, first.RequestID)
	if !req.Bound() || req.Status != domain.StatusPublished {
		t.Fatalf("resumed request must be bound: %+v", req)
	}

	again, err := svc.Resume(ctx, first.RequestID)
	if err != nil || again.ChannelMessageID != 501 || len(ch.posts) != 1 {
		t.Fatalf("resuming a bound request must not post: %+v, %v (posts=%d)", again, err, len(ch.posts))
	}
	if n := countRequests(t, svc); n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}

	if _, err := svc.Resume(ctx, 404); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestPublish_WarmIndex(t *testing.T) {
	svc, _ := newPublish(t)
	ctx := context.Background()
	seedRequest(t, svc.DB, 7, true)
	seedRequest(t, svc.DB, 8, false)

	n, err := svc.WarmIndex(ctx, 100)
	if err != nil || n != 1 {
		t.Fatalf("warm: n=%d err=%v", n, err)
	}
	got := svc.Index.Similar("Request 7 a sufficiently long description", 3)
	if len(got) != 1 || got[0].ID != 7 {
		t.Fatalf("expected request 7 indexed, got %+v", got)
	}

	svc.Index = nil
	if n, err := svc.WarmIndex(ctx, 100); n != 0 || err != nil {
		t.Fatalf("nil index: n=%d err=%v", n, err)
	}
}

func TestNormalizeTags(t *testing.T) {
	got := NormalizeTags([]string{" #Go ", "GO", "", "  ", "Web  Dev", "ÄPFEL"})
	want := []string{"go", "web dev", "äpfel"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("NormalizeTags=%q want %q", got, want)
	}
}
