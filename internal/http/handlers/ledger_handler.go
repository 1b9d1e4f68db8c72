// Ledger HTTP handlers.
//
//   - POST   {base}/requests/{id}/votes             (cast or flip a vote)
//   - DELETE {base}/requests/{id}/votes/{voter_id}  (withdraw a vote)
//   - POST   {base}/payments                        (reconcile a charge)
//   - POST   {base}/top/refresh                     (rebuild the pinned board)
//
// These routes mutate the ledger and are mounted behind AdminAuth. Each
// successful mutation re-renders the request's channel post.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ideabot/internal/domain"
	"github.com/tbourn/ideabot/internal/services"
	"github.com/tbourn/ideabot/internal/utils"
)

// CastVoteRequest is the JSON payload for a vote.
type CastVoteRequest struct {
	VoterID   int64  `json:"voter_id" binding:"required" example:"123456789"`
	Direction string `json:"direction" binding:"required" example:"up"`
}

// TallyResponse carries the tally after a ledger operation.
type TallyResponse struct {
	Tally domain.Tally `json:"tally"`
}

// DuplicateVoteResponse is the 409 body for a repeated vote; it carries the
// unchanged tally next to the error envelope fields.
type DuplicateVoteResponse struct {
	ErrorResponse
	Tally domain.Tally `json:"tally"`
}

// PaymentRequest is a charge notification replayed over HTTP.
type PaymentRequest struct {
	ChargeID         string `json:"charge_id" binding:"required" example:"stxAbC123"`
	ProviderChargeID string `json:"provider_charge_id,omitempty"`
	RequestID        string `json:"request_id" binding:"required" example:"1790412345678901248"`
	PayerID          int64  `json:"payer_id" binding:"required" example:"123456789"`
	Amount           int    `json:"amount" example:"300"`
	Currency         string `json:"currency" example:"XTR"`
	Kind             string `json:"kind" example:"priority"`
}

// PaymentResponse reports the tally and whether the charge was seen before.
type PaymentResponse struct {
	Tally            domain.Tally `json:"tally"`
	AlreadyProcessed bool         `json:"already_processed"`
	Code             string       `json:"code,omitempty" example:"already_processed"`
}

// CastVote godoc
// @ID          castVote
// @Summary     Cast a vote
// @Description Records an up or down vote. A repeat vote in the same direction returns 409 with the unchanged tally; the opposite direction flips the vote.
// @Tags        Ledger
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string                    true  "Request ID"  example(1790412345678901248)
// @Param       body  body  handlers.CastVoteRequest  true  "Vote"
//
// @Success     200  {object} handlers.TallyResponse
// @Failure     400  {object} handlers.ErrorResponse          "Bad request"
// @Failure     401  {object} handlers.ErrorResponse          "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse          "Request not found"
// @Failure     409  {object} handlers.DuplicateVoteResponse  "Duplicate vote"
// @Failure     500  {object} handlers.ErrorResponse          "Internal error"
// @Router      /requests/{id}/votes [post]
func (h *Handlers) CastVote(c *gin.Context) {
	id, valid := requestIDParam(c)
	if !valid {
		return
	}
	var body CastVoteRequest
	if err := c.ShouldBindJSON(&body); err != nil || body.VoterID <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voter_id and direction required")
		return
	}
	dir := strings.ToLower(strings.TrimSpace(body.Direction))

	t, err := h.ledger.CastVote(c.Request.Context(), id, body.VoterID, dir)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateVote):
			c.AbortWithStatusJSON(http.StatusConflict, DuplicateVoteResponse{
				ErrorResponse: ErrorResponse{
					RequestID: c.Writer.Header().Get("X-Request-ID"),
					Code:      ErrCodeDuplicateVote,
					Message:   "already voted this way",
				},
				Tally: t,
			})
		default:
			failLedger(c, err)
		}
		return
	}
	h.render(c, t)
	ok(c, http.StatusOK, TallyResponse{Tally: t})
}

// RemoveVote godoc
// @ID          removeVote
// @Summary     Withdraw a vote
// @Description Deletes the voter's vote on the request. Removing a vote that does not exist is a no-op that returns the current tally.
// @Tags        Ledger
// @Produce     json
// @Security    BearerAuth
//
// @Param       id        path  string  true  "Request ID"  example(1790412345678901248)
// @Param       voter_id  path  int     true  "Voter (Telegram user) ID"  example(123456789)
//
// @Success     200  {object} handlers.TallyResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests/{id}/votes/{voter_id} [delete]
func (h *Handlers) RemoveVote(c *gin.Context) {
	id, valid := requestIDParam(c)
	if !valid {
		return
	}
	voter := utils.ParseID(c.Param("voter_id"))
	if voter == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "voter id must be a positive integer")
		return
	}
	t, err := h.ledger.RemoveVote(c.Request.Context(), id, voter)
	if err != nil {
		failLedger(c, err)
		return
	}
	h.render(c, t)
	ok(c, http.StatusOK, TallyResponse{Tally: t})
}

// ApplyPayment godoc
// @ID          applyPayment
// @Summary     Reconcile a payment
// @Description Applies the priority boost for a completed charge exactly once per charge_id. A redelivered charge returns 200 with code already_processed and the current tally.
// @Tags        Ledger
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.PaymentRequest  true  "Charge notification"
//
// @Success     200  {object} handlers.PaymentResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /payments [post]
func (h *Handlers) ApplyPayment(c *gin.Context) {
	var body PaymentRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "charge_id, request_id and payer_id required")
		return
	}
	reqID := utils.ParseID(body.RequestID)
	if reqID == 0 {
		failField(c, "request_id", "request_id must be a positive integer")
		return
	}
	kind := strings.TrimSpace(body.Kind)
	if kind == "" {
		kind = domain.KindPriority
	}

	res, err := h.ledger.ApplyPayment(c.Request.Context(), services.PaymentInput{
		ChargeID:         body.ChargeID,
		ProviderChargeID: body.ProviderChargeID,
		RequestID:        reqID,
		PayerID:          body.PayerID,
		Amount:           body.Amount,
		Currency:         strings.ToUpper(strings.TrimSpace(body.Currency)),
		Kind:             kind,
	})
	if err != nil {
		failLedger(c, err)
		return
	}

	resp := PaymentResponse{Tally: res.Tally, AlreadyProcessed: res.AlreadyProcessed}
	if res.AlreadyProcessed {
		resp.Code = ErrCodeAlreadyProcessed
	} else {
		h.render(c, res.Tally)
	}
	ok(c, http.StatusOK, resp)
}

// RefreshTop godoc
// @ID          refreshTop
// @Summary     Refresh the top-ideas board
// @Description Re-renders the pinned leaderboard post in the channel, posting and pinning a new one when needed.
// @Tags        Ledger
// @Produce     json
// @Security    BearerAuth
//
// @Success     204  {string} string "No Content"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     502  {object} handlers.ErrorResponse "Channel update failed"
// @Failure     503  {object} handlers.ErrorResponse "Board not configured"
// @Router      /top/refresh [post]
func (h *Handlers) RefreshTop(c *gin.Context) {
	if h.board == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeBoardRefreshError, "top-ideas board is not configured")
		return
	}
	if err := h.board.Refresh(c.Request.Context()); err != nil {
		fail(c, http.StatusBadGateway, ErrCodeBoardRefreshError, err.Error())
		return
	}
	noContent(c)
}

// failLedger maps ledger service errors to HTTP responses.
func failLedger(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeRequestNotFound, "request not found")
	case errors.Is(err, services.ErrInvalidDirection):
		failWith(c, http.StatusBadRequest, ErrorResponse{Code: ErrCodeInvalidDirection, Message: err.Error(), Field: "direction"})
	case errors.Is(err, services.ErrUnknownPaymentKind):
		failWith(c, http.StatusBadRequest, ErrorResponse{Code: ErrCodeUnknownKind, Message: err.Error(), Field: "kind"})
	case errors.Is(err, services.ErrInvalidPayment):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPayment, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeLedgerFailed, err.Error())
	}
}
