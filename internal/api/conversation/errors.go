package conversation

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeNoActiveSession     Code = "NO_ACTIVE_SESSION"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeInvalidPlan         Code = "INVALID_PLAN"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is the failure type every Service method returns. Sentinels below
// match on Code alone, so errors.Is(err, ErrNoActiveSession) works for any
// reason.
type Error struct {
	Code   Code
	Reason string
	Err    error
}

var (
	ErrInvalidInput        = &Error{Code: CodeInvalidInput}
	ErrNoActiveSession     = &Error{Code: CodeNoActiveSession}
	ErrConcurrencyConflict = &Error{Code: CodeConcurrencyConflict}
	ErrInvalidPlan         = &Error{Code: CodeInvalidPlan}
	ErrInternal            = &Error{Code: CodeInternal}
)

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus maps the code onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeInvalidPlan:
		return http.StatusUnprocessableEntity
	case CodeNoActiveSession:
		return http.StatusNotFound
	case CodeConcurrencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
