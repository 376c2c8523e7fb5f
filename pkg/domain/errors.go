package domain

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrTransient marks failures that must be retried through redelivery.
	ErrTransient = errors.New("transient failure")

	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

var (
	ErrAccountNotFound      = fmtErr(ErrNotFound, "account not found")
	ErrAccountAlreadyClosed = fmtErr(ErrConflict, "account already closed")
	ErrAccountNotUsable     = fmtErr(ErrValidation, "account not found, not owned by user, or not active")
	ErrOperationNotFound    = fmtErr(ErrNotFound, "operation not found")
	ErrBalanceNotFound      = fmtErr(ErrNotFound, "balance not found")
	ErrInvalidAmount        = fmtErr(ErrValidation, "amount must be positive")
	ErrAmountPrecision      = fmtErr(ErrValidation, "amount must have at most 2 decimal places")
)

type classifiedError struct {
	class error
	msg   string
}

func fmtErr(class error, msg string) error {
	return &classifiedError{class: class, msg: msg}
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.class }

// IsPermanent reports whether err belongs to the corruption class: retrying
// the message can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrUnknownMessageType) ||
		errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrInvariantViolation)
}
