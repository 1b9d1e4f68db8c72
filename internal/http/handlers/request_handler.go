// Request HTTP handlers.
//
//   - GET {base}/requests        (ranked list, paginated, ETag support)
//   - GET {base}/requests/{id}   (one request with its live tally)
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/services"
)

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []domain.FeatureRequest `json:"requests"`
	Pagination Pagination              `json:"pagination"`
}

// RequestResponse is a request together with its tally.
type RequestResponse struct {
	Request *domain.FeatureRequest `json:"request"`
	Tally   domain.Tally           `json:"tally"`
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List published requests (ranked, paginated)
// @Description Returns published requests ordered by tally, highest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"requests:12:1717171717\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). Every ledger mutation bumps updated_at.
	if count, maxTS, err := h.reqs.Stats(ctx); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"requests:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.reqs.ListPage(ctx, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Get a request
// @Description Returns one request with its tally derived from the vote rows and stored boost.
// @Tags        Requests
// @Produce     json
//
// @Param       id  path  string  true  "Request ID"  example(1790412345678901248)
//
// @Success     200  {object} handlers.RequestResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	id, valid := requestIDParam(c)
	if !valid {
		return
	}
	req, t, err := h.reqs.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrRequestNotFound) {
			fail(c, http.StatusNotFound, ErrCodeRequestNotFound, "request not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, RequestResponse{Request: req, Tally: t})
}
