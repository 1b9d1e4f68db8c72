// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them instead
// of on messages. Generic codes mirror HTTP status semantics, domain codes
// name ledger and submission outcomes that status alone cannot convey.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "title: must be at least 3 characters",
//	  "field": "title"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeValidationFailed  = "validation_failed"
	ErrCodeRequestNotFound   = "request_not_found"
	ErrCodeDuplicateVote     = "duplicate_vote"
	ErrCodeInvalidDirection  = "invalid_direction"
	ErrCodeInvalidPayment    = "invalid_payment"
	ErrCodeUnknownKind       = "unknown_payment_kind"
	ErrCodeAlreadyProcessed  = "already_processed"
	ErrCodeUpstream          = "upstream_error"
	ErrCodeListFailed        = "list_failed"
	ErrCodeLedgerFailed      = "ledger_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
	ErrCodeBoardRefreshError = "board_refresh_failed"
)
