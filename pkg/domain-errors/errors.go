// Package domainerrors defines the error taxonomy shared by services and transports.
//
// Services return *Error values carrying a Code; transports map codes to status
// codes without inspecting messages. Infrastructure layers return sentinel errors
// (pkg/platform/sentinel) which services translate into coded errors.
package domainerrors

import "errors"

// Code classifies a domain error.
type Code string

const (
	// CodeValidation covers malformed or out-of-order input (e.g. backdated events).
	// Never retried, never partially applied.
	CodeValidation Code = "validation_error"
	// CodeInvalidInput is a validation failure at a parse/trust boundary.
	CodeInvalidInput Code = "invalid_input"
	// CodeInvariantViolation is returned by model constructors; services
	// convert it to CodeValidation before it reaches a transport.
	CodeInvariantViolation Code = "invariant_violation"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	// CodeConflict signals a concurrent redaction/anonymization collision or a
	// write against a terminal state. Callers may retry after a short delay.
	CodeConflict Code = "conflict"
	// CodeTransient signals storage timeout/unavailability. Retryable with backoff.
	CodeTransient    Code = "transient_error"
	CodeTimeout      Code = "timeout"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeInternal     Code = "internal_error"
)

// Error is a coded domain error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the outermost *Error in the chain, or CodeInternal
// when err carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}

// Is is an alias of HasCode kept for call sites that read better with it.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// IsRetryable reports whether the caller may retry the operation.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeTransient, CodeTimeout:
		return true
	default:
		return false
	}
}
