// Package apperr defines the error kinds returned by services and their
// mapping onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindNotRecognized      Kind = "not_recognized"
	KindUnknownSubject     Kind = "unknown_subject"
	KindAlreadyMarked      Kind = "already_marked"
	KindConflict           Kind = "conflict"
	KindServiceDisabled    Kind = "service_disabled"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindInternal           Kind = "internal"
)

// Error carries a kind, a client-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error     { return New(KindValidation, msg) }
func Unauthorized(msg string) *Error   { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error      { return New(KindForbidden, msg) }
func NotFound(msg string) *Error       { return New(KindNotFound, msg) }
func NotRecognized(msg string) *Error  { return New(KindNotRecognized, msg) }
func UnknownSubject(msg string) *Error { return New(KindUnknownSubject, msg) }
func AlreadyMarked(msg string) *Error  { return New(KindAlreadyMarked, msg) }
func Conflict(msg string) *Error       { return New(KindConflict, msg) }
func ServiceDisabled(msg string) *Error {
	return New(KindServiceDisabled, msg)
}
func GatewayUnavailable(err error) *Error {
	return Wrap(KindGatewayUnavailable, "recognition service unavailable", err)
}
func Internal(err error) *Error { return Wrap(KindInternal, "internal error", err) }

// KindOf reports the kind of err. Untyped errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-safe message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error onto a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound, KindNotRecognized, KindUnknownSubject:
		return http.StatusNotFound
	case KindAlreadyMarked, KindConflict:
		return http.StatusConflict
	case KindServiceDisabled, KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return KindOf(err) == KindGatewayUnavailable
}
