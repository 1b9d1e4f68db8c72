// Submission HTTP handler.
//
//   - POST {base}/submit  (and the legacy alias POST /vf/submit)
//
// A submission is validated, stored, and posted to the channel in one call.
// With an Idempotency-Key, the key is stored as soon as a request row exists,
// together with whether the channel post went out (201) or not (502). A
// retried POST never creates a second row:
//   - post went out: the stored request is returned with
//     `Idempotency-Replayed: true`, even when the bind had failed;
//   - post failed: the stored request is posted now.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ideabot/internal/http/middleware"
	"github.com/tbourn/ideabot/internal/services"
)

// SubmitRequest is the JSON payload of a feature request submission.
type SubmitRequest struct {
	Title          string   `json:"title" example:"Dark mode for the mobile app"`
	Description    string   `json:"description" example:"Reading at night is hard on the eyes; a dark theme would help."`
	Tags           []string `json:"tags" example:"ui,mobile"`
	AuthorTGID     *int64   `json:"author_tg_id,omitempty" example:"123456789"`
	AuthorUsername string   `json:"author_username,omitempty" example:"alice"`
	Domain         string   `json:"domain,omitempty" example:"mobile"`
}

// SubmitResponse identifies the created request and its channel post.
type SubmitResponse struct {
	OK                bool     `json:"ok" example:"true"`
	RequestID         string   `json:"request_id" example:"1790412345678901248"`
	ChannelMessageID  int      `json:"channel_message_id,omitempty" example:"812"`
	SimilarRequestIDs []string `json:"similar_request_ids"`
}

// Submit godoc
// @ID          submitRequest
// @Summary     Submit a feature request
// @Description Validates the submission, stores it, and publishes it to the channel with voting buttons.
// @Description Supports idempotency via the Idempotency-Key header (same key → same request).
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Caller id used to scope idempotency keys"  example(crm-form)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"          example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SubmitRequest  true  "Submission"
//
// @Success     201  {object}  handlers.SubmitResponse
// @Success     200  {object}  handlers.SubmitResponse  "Idempotent replay"
// @Failure     400  {object}  handlers.ErrorResponse   "Validation failed"
// @Failure     502  {object}  handlers.ErrorResponse   "Channel post failed"
// @Failure     500  {object}  handlers.ErrorResponse   "Internal error"
// @Router      /submit [post]
func (h *Handlers) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	if prior, seen := middleware.ReplayOf(c); seen && h.resumeSubmit(c, prior) {
		return
	}

	var body SubmitRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.pub.Publish(ctx, services.PublishInput{
		AuthorID:    body.AuthorTGID,
		AuthorName:  body.AuthorUsername,
		Title:       body.Title,
		Description: body.Description,
		Tags:        body.Tags,
		Domain:      body.Domain,
	})
	if res.RequestID != 0 {
		status := http.StatusCreated
		if errors.Is(err, services.ErrUpstream) {
			status = http.StatusBadGateway
		}
		h.recordKey(c, res.RequestID, status)
	}
	if err != nil {
		publishFailed(c, err)
		return
	}

	msgID := res.ChannelMessageID
	ok(c, http.StatusCreated, submitResponse(res.RequestID, &msgID, res.Similar))
}

// resumeSubmit answers a retried submission from its earlier attempt and
// reports whether it wrote a response. A vanished request falls through to
// a fresh publish.
func (h *Handlers) resumeSubmit(c *gin.Context, prior middleware.Replay) bool {
	ctx := c.Request.Context()
	req, _, err := h.reqs.Get(ctx, prior.RequestID)
	if err != nil {
		return false
	}
	if req.Bound() || prior.Status != http.StatusBadGateway {
		replay(c, submitResponse(req.ID, req.ChannelMessageID, nil))
		return true
	}

	res, err := h.pub.Resume(ctx, req.ID)
	switch {
	case err == nil:
		msgID := res.ChannelMessageID
		ok(c, http.StatusCreated, submitResponse(res.RequestID, &msgID, nil))
	case errors.Is(err, services.ErrRequestNotFound):
		return false
	default:
		publishFailed(c, err)
	}
	return true
}

func (h *Handlers) recordKey(c *gin.Context, requestID int64, status int) {
	key, scope, has := middleware.GetIdempotencyKey(c)
	if !has || h.idem == nil {
		return
	}
	if err := h.idem.Record(c.Request.Context(), middleware.UserID(c), scope, key, requestID, status); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("idempotency_key", key).Msg("store idempotency key failed")
	}
}

func publishFailed(c *gin.Context, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		failField(c, ve.Field, ve.Error())
	case errors.Is(err, services.ErrUpstream):
		fail(c, http.StatusBadGateway, ErrCodeUpstream, "could not publish to the channel")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

func submitResponse(id int64, msgID *int, similar []int64) SubmitResponse {
	resp := SubmitResponse{
		OK:                true,
		RequestID:         strconv.FormatInt(id, 10),
		SimilarRequestIDs: make([]string, 0, len(similar)),
	}
	if msgID != nil {
		resp.ChannelMessageID = *msgID
	}
	for _, s := range similar {
		resp.SimilarRequestIDs = append(resp.SimilarRequestIDs, strconv.FormatInt(s, 10))
	}
	return resp
}
