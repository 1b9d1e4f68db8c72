// Package services defines the business logic for the request/vote/payment
// ledger, the publish flow, channel re-rendering, and the dialog relay.
// This file centralizes service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer (HTTP) or in the Telegram transport.
package services

import (
	"errors"
	"fmt"
)

// Ledger errors.
var (
	// ErrRequestNotFound indicates that the referenced feature request does
	// not exist or was deleted.
	ErrRequestNotFound = errors.New("request not found")

	// ErrDuplicateVote is informational: the voter already voted this way and
	// the tally is unchanged.
	ErrDuplicateVote = errors.New("already voted this way")

	// ErrInvalidDirection is returned for a vote direction other than up/down.
	ErrInvalidDirection = errors.New("vote direction must be up or down")

	// ErrUnknownPaymentKind is returned when a payment kind has no configured boost.
	ErrUnknownPaymentKind = errors.New("unknown payment kind")

	// ErrInvalidPayment is returned for a payment without a charge id or payer.
	ErrInvalidPayment = errors.New("invalid payment")
)

// Submission errors.
var (
	// ErrContentTooShort is wrapped by ValidationError when a title or
	// description is below its minimum length.
	ErrContentTooShort = errors.New("content too short")

	// ErrInvalidInput is wrapped by ValidationError for other malformed fields.
	ErrInvalidInput = errors.New("invalid input")
)

// Upstream errors (dialog provider, channel API).
var (
	// ErrUpstreamTimeout indicates the external call exceeded its deadline.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstream indicates the external service failed or was unreachable.
	ErrUpstream = errors.New("upstream error")
)

// Channel API outcomes, returned by channel implementations so the renderer
// can classify them.
var (
	// ErrChannelNotModified means the post already shows the same content.
	ErrChannelNotModified = errors.New("channel message not modified")

	// ErrChannelMessageGone means the post or chat is missing or the bot lost access.
	ErrChannelMessageGone = errors.New("channel message not found or forbidden")
)

// ValidationError reports a malformed submission field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // ErrContentTooShort or ErrInvalidInput
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }
