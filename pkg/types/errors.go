package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a gateway error for retry decisions and for the
// HTTP surface. Kinds are stable; messages are not.
type ErrorKind string

const (
	ErrKindValidation    ErrorKind = "validation"
	ErrKindRiskLimit     ErrorKind = "risk_limit"
	ErrKindData          ErrorKind = "data"
	ErrKindNetwork       ErrorKind = "network"
	ErrKindExecution     ErrorKind = "execution"
	ErrKindSerialization ErrorKind = "serialization"
)

// Error is the cross-boundary error carried by the gateway. It keeps a
// machine-readable kind next to the human message so the API layer and
// the retry classifier can branch on the kind; message text is only
// consulted as a fallback (not-found detection, retry vocabularies).
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can match with errors.Is against
// a bare &Error{Kind: …}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Code returns the stable machine code surfaced across the API.
func (e *Error) Code() string {
	switch e.Kind {
	case ErrKindValidation:
		return "VALIDATION_ERROR"
	case ErrKindRiskLimit:
		return "RISK_LIMIT_ERROR"
	case ErrKindData:
		return "DATA_ERROR"
	case ErrKindNetwork:
		return "NETWORK_ERROR"
	case ErrKindSerialization:
		return "SERIALIZATION_ERROR"
	default:
		return "EXECUTION_ERROR"
	}
}

// HTTPStatus maps the error onto the control API status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case ErrKindValidation, ErrKindSerialization:
		return http.StatusBadRequest
	case ErrKindRiskLimit:
		return http.StatusForbidden
	case ErrKindData:
		return http.StatusUnprocessableEntity
	case ErrKindNetwork:
		return http.StatusBadGateway
	default:
		if e.NotFound() {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
}

// NotFound reports whether the error describes a missing order. Venue
// adapters report this in the message, so a substring check is the
// fallback contract here.
func (e *Error) NotFound() bool {
	return strings.Contains(strings.ToLower(e.Message), "not found")
}

func NewValidationError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrKindValidation, Message: fmt.Sprintf(format, args...)}
}

func NewRiskLimitError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrKindRiskLimit, Message: fmt.Sprintf(format, args...)}
}

func NewDataError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrKindData, Message: fmt.Sprintf(format, args...)}
}

func NewExecutionError(format string, args ...interface{}) *Error {
	return &Error{Kind: ErrKindExecution, Message: fmt.Sprintf(format, args...)}
}

func NewSerializationError(err error) *Error {
	return &Error{Kind: ErrKindSerialization, Message: "cannot decode payload", Err: err}
}

// NewNetworkError wraps a transport-level failure talking to a venue.
func NewNetworkError(err error) *Error {
	return &Error{Kind: ErrKindNetwork, Message: "venue transport failure", Err: err}
}

// AsError extracts the typed gateway error, wrapping foreign errors as
// execution failures so every surfaced error carries a kind.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ErrKindExecution, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err, defaulting to execution for errors
// produced outside the gateway.
func KindOf(err error) ErrorKind {
	return AsError(err).Kind
}
