package swaperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between retry, refund and abort
type Kind string

const (
	KindInvalidParameters Kind = "INVALID_PARAMETERS"
	KindSecretMismatch    Kind = "SECRET_MISMATCH"
	KindTimelockViolation Kind = "TIMELOCK_VIOLATION"
	KindTransient         Kind = "TRANSIENT_CHAIN_ERROR"
	KindDeadlineExceeded  Kind = "DEADLINE_EXCEEDED"
	KindNotOpen           Kind = "NOT_OPEN"
	KindNotFound          Kind = "NOT_FOUND"
)

// Validation codes reported under KindInvalidParameters
const (
	CodeZeroAddress       = "zero_address"
	CodeMalformedAddress  = "malformed_address"
	CodeSelfSwap          = "self_swap"
	CodeNonPositiveAmount = "non_positive_amount"
	CodeTimelockTooShort  = "timelock_too_short"
	CodeTimelockTooLong   = "timelock_too_long"
	CodeUnknownAsset      = "unknown_asset"
	CodeSameChain         = "same_chain"
	CodeHashlockInUse     = "hashlock_in_use"
	CodeInsufficientFunds = "insufficient_funds"
	CodeFeeMismatch       = "fee_mismatch"
	CodeUnknownStatus     = "unknown_status"
)

// Error is a classified failure
type Error struct {
	Kind Kind
	Code string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += "(" + e.Code + ")"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, and by code when the target sets one
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is checks
var (
	ErrInvalidParameters = &Error{Kind: KindInvalidParameters}
	ErrSecretMismatch    = &Error{Kind: KindSecretMismatch}
	ErrTimelockViolation = &Error{Kind: KindTimelockViolation}
	ErrTransient         = &Error{Kind: KindTransient}
	ErrDeadlineExceeded  = &Error{Kind: KindDeadlineExceeded}
	ErrNotOpen           = &Error{Kind: KindNotOpen}
	ErrNotFound          = &Error{Kind: KindNotFound}
)

// New creates a classified error
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Invalid creates an InvalidParameters error with a validation code
func Invalid(code, format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidParameters, Code: code, Err: fmt.Errorf(format, args...)}
}

// Transient wraps a chain or network failure that is worth retrying
func Transient(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in the chain.
// Unclassified errors are reported as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the operation may succeed if attempted again
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == KindTransient
}
