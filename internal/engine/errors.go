package engine

import (
	"errors"
	"fmt"

	"github.com/iliyamo/kiosk-session-server/internal/model"
)

// Wire error codes carried in error{code,message} events.
const (
	CodeStateMismatch         = "state_mismatch"
	CodeAlreadyActive         = "already_active"
	CodeNotFound              = "not_found"
	CodePaymentFailed         = "payment_failed"
	CodeGenerationFailed      = "generation_failed"
	CodeConnectionLost        = "connection_lost"
	CodeUnauthorized          = "unauthorized"
	CodeInvalidPayload        = "invalid_payload"
	CodeUnknownEvent          = "unknown_event"
	CodeStaleResult           = "stale_result"
	CodeSessionTerminal       = "session_terminal"
	CodeTicketNotIssued       = "ticket_not_issued"
	CodeTicketAlreadyIssued   = "ticket_already_issued"
	CodeConfirmationForbidden = "payment_confirmation_forbidden"
	CodeInternal              = "internal"
)

// codedError is a sentinel carrying its wire code.
type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string     { return e.msg }
func (e *codedError) ErrorCode() string { return e.code }

// NewError returns a sentinel error reporting code on the wire.  Compare
// results with errors.Is.
func NewError(code, msg string) error {
	return &codedError{code: code, msg: msg}
}

var (
	ErrSessionTerminal       = NewError(CodeSessionTerminal, "session already ended")
	ErrStaleResult           = NewError(CodeStaleResult, "result does not belong to the active attempt")
	ErrUnknownEvent          = NewError(CodeUnknownEvent, "unknown event")
	ErrTicketNotIssued       = NewError(CodeTicketNotIssued, "ticket not issued yet")
	ErrTicketAlreadyIssued   = NewError(CodeTicketAlreadyIssued, "ticket already issued")
	ErrConfirmationForbidden = NewError(CodeConfirmationForbidden, "payment confirmation must come from the payment gateway")
)

// StateMismatchError rejects an event that is not valid in the current state.
type StateMismatchError struct {
	State model.State
	Event EventKind
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("event %s not allowed in state %s", e.Event, e.State)
}

func (e *StateMismatchError) ErrorCode() string { return CodeStateMismatch }

// InvalidPayloadError rejects an event whose data fails validation.
type InvalidPayloadError struct {
	Field  string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidPayloadError) ErrorCode() string { return CodeInvalidPayload }

// PaymentFailedError describes a gateway failure reported to the client.
type PaymentFailedError struct {
	Reason    string
	Retryable bool
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("payment failed: %s", e.Reason)
}

func (e *PaymentFailedError) ErrorCode() string { return CodePaymentFailed }

// GenerationFailedError describes a render failure reported to the client.
type GenerationFailedError struct {
	Message   string
	Retryable bool
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("video generation failed: %s", e.Message)
}

func (e *GenerationFailedError) ErrorCode() string { return CodeGenerationFailed }

// Code maps err to its wire error code; unknown errors are internal.
func Code(err error) string {
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return CodeInternal
}
