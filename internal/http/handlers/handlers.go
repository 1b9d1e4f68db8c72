// Package handlers exposes the HTTP API over the feature-request ledger.
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results and service errors into HTTP responses
// (including conditional and idempotent replays).
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/services"
	"github.com/tbourn/ideabot/internal/utils"
)

//
// Service contracts (context-aware)
//

// Publisher turns a submission into a published channel post. Resume posts
// a stored request whose earlier post never reached the channel.
type Publisher interface {
	Publish(ctx context.Context, in services.PublishInput) (services.PublishResult, error)
	Resume(ctx context.Context, requestID int64) (services.PublishResult, error)
}

// RequestReader serves read-only request queries.
type RequestReader interface {
	Get(ctx context.Context, id int64) (*domain.FeatureRequest, domain.Tally, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.FeatureRequest, int64, error)
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// Ledger mutates votes and payments.
type Ledger interface {
	CastVote(ctx context.Context, requestID, voterID int64, direction string) (domain.Tally, error)
	RemoveVote(ctx context.Context, requestID, voterID int64) (domain.Tally, error)
	ApplyPayment(ctx context.Context, in services.PaymentInput) (services.PaymentResult, error)
}

// Renderer re-renders a request's channel post after a ledger mutation.
type Renderer interface {
	RenderAndSync(ctx context.Context, requestID int64, tally domain.Tally)
}

// BoardRefresher rebuilds the pinned top-ideas post.
type BoardRefresher interface {
	Refresh(ctx context.Context) error
}

// IdempotencyRecorder remembers which request an Idempotency-Key produced.
type IdempotencyRecorder interface {
	Record(ctx context.Context, userID, scope, key string, requestID int64, status int) error
}

//
// Handler wiring
//

// Deps are the services behind the HTTP API. Renderer, Board and Idem may be
// nil: renders are skipped, /top/refresh answers 503, and keys are not stored.
type Deps struct {
	Publisher Publisher
	Requests  RequestReader
	Ledger    Ledger
	Renderer  Renderer
	Board     BoardRefresher
	Idem      IdempotencyRecorder
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	pub      Publisher
	reqs     RequestReader
	ledger   Ledger
	renderer Renderer
	board    BoardRefresher
	idem     IdempotencyRecorder
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	return &Handlers{
		pub:      d.Publisher,
		reqs:     d.Requests,
		ledger:   d.Ledger,
		renderer: d.Renderer,
		board:    d.Board,
		idem:     d.Idem,
	}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// requestIDParam parses the :id path parameter as a positive request id.
func requestIDParam(c *gin.Context) (int64, bool) {
	id := utils.ParseID(c.Param("id"))
	if id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a positive integer")
		return 0, false
	}
	return id, true
}

// render re-renders the channel post when a renderer is wired. Render
// failures are logged by the renderer and never change the response.
func (h *Handlers) render(c *gin.Context, t domain.Tally) {
	if h.renderer != nil {
		h.renderer.RenderAndSync(c.Request.Context(), t.RequestID, t)
	}
}
