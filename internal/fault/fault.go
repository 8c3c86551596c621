// Package fault defines the error taxonomy for the trading core. Every
// user-visible failure carries exactly one stable code plus a human-readable
// message; callers branch on the code, never on message text.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	// CodeValidation marks malformed or out-of-range requests. Never
	// retried automatically.
	CodeValidation Code = "VALIDATION"

	// CodeStateConflict marks operations against a market in the wrong
	// lifecycle state. The caller must re-check market state before retrying.
	CodeStateConflict Code = "STATE_CONFLICT"

	// CodeDuplicateRequest marks an idempotency key already consumed by a
	// committed trade. Non-retryable; fetch the original result instead.
	CodeDuplicateRequest Code = "DUPLICATE_REQUEST"

	// CodeInsufficientFunds marks a funds check failure. Checked before any
	// mutation, so no partial state change exists.
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	// CodeIntegrity marks a fatal internal condition (ledger imbalance,
	// missing AMM state row). Indicates a bug, not user error.
	CodeIntegrity Code = "INTEGRITY"

	// CodeTimeout marks an orchestration that exceeded its wall-clock
	// budget. Transient; safe to retry with the same idempotency key.
	CodeTimeout Code = "TIMEOUT"
)

// Error is a coded error. It wraps an optional cause for errors.Is/As.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf extracts the code from err. Context deadline errors map to
// CodeTimeout; anything uncoded is CodeIntegrity, the conservative default
// for conditions the taxonomy did not anticipate.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeIntegrity
}

// HTTPStatus maps a code to its HTTP response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeStateConflict, CodeDuplicateRequest:
		return http.StatusConflict
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns the message safe to surface to callers. Integrity
// failures are reported generically; the detail goes to logs only.
func UserMessage(err error) string {
	code := CodeOf(err)
	if code == CodeIntegrity {
		return "internal error"
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	if code == CodeTimeout {
		return "operation timed out; safe to retry"
	}
	return "internal error"
}
