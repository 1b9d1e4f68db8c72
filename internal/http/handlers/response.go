// Package handlers implements the ideabot HTTP API: submissions from web
// forms, read access to the ranked request list, and the admin ledger
// endpoints that mirror what the Telegram bot does.
//
// Every failure is written as an ErrorResponse with a stable code from
// errors.go; validation failures also name the offending field:
//
//	HTTP/1.1 400 Bad Request
//	{"request_id":"9b2f...","code":"validation_failed","message":"title: must be at least 3 characters","field":"title"}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/ideabot/internal/http/middleware"
)

// ErrorResponse is the error envelope of every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Machine-readable code
	Code string `json:"code" example:"request_not_found"`
	// Safe to show to users
	Message string `json:"message" example:"request not found"`
	// Offending input field, set for validation_failed
	Field string `json:"field,omitempty" example:"title"`
}

// replayHeader marks a response served from an earlier Idempotency-Key.
const replayHeader = "Idempotency-Replayed"

func fail(c *gin.Context, status int, code, msg string) {
	failWith(c, status, ErrorResponse{Code: code, Message: msg})
}

// failField rejects one input field with 400 validation_failed.
func failField(c *gin.Context, field, msg string) {
	failWith(c, http.StatusBadRequest, ErrorResponse{Code: ErrCodeValidationFailed, Message: msg, Field: field})
}

// failWith aborts with resp. 5xx are logged at error level, client errors at
// debug so rejected bot traffic stays out of production logs.
func failWith(c *gin.Context, status int, resp ErrorResponse) {
	resp.RequestID = c.Writer.Header().Get("X-Request-ID")

	lg := middleware.LoggerFrom(c)
	ev := lg.Debug()
	if status >= http.StatusInternalServerError {
		ev = lg.Error()
	}
	ev.Int("status", status).
		Str("code", resp.Code).
		Str("field", resp.Field).
		Str("message", resp.Message).
		Msg("api error")

	c.AbortWithStatusJSON(status, resp)
}

// Fail writes the error envelope for callers outside this package, such as
// the router's NoRoute and NoMethod handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

// replay answers with a result stored under an Idempotency-Key.
func replay(c *gin.Context, body any) {
	c.Header(replayHeader, "true")
	c.JSON(http.StatusOK, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
