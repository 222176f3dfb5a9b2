// Package apperr is the error taxonomy shared by the domain services. Each
// error has a Kind that decides the HTTP status and a stable Code clients can
// switch on.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindUnauthorized  Kind = "unauthenticated"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindUpstream      Kind = "upstream"
)

// Error is returned by services for every failure the caller can act on.
type Error struct {
	Kind          Kind
	Code          string
	Message       string
	CurrentStatus string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request later.
func (e *Error) Retryable() bool { return e.Kind == KindUpstream }

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: msg}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: "unauthenticated", Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

// Conflict carries the resource's current status so the client can refresh.
func Conflict(code, msg, currentStatus string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg, CurrentStatus: currentStatus}
}

func Upstream(code, msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: msg, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	ae, ok := As(err)
	return ok && ae.Kind == kind
}

// Status maps a kind to its HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUpstream:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Body is the JSON error envelope.
type Body struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	CurrentStatus string `json:"current_status,omitempty"`
}

// HTTP converts any service error into an *echo.HTTPError. Errors outside the
// taxonomy become 500 without leaking their text.
func HTTP(err error) *echo.HTTPError {
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	ae, ok := As(err)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, Body{
			Error:   "internal",
			Code:    "internal_error",
			Message: "internal server error",
		}).SetInternal(err)
	}
	he = echo.NewHTTPError(Status(ae.Kind), Body{
		Error:         string(ae.Kind),
		Code:          ae.Code,
		Message:       ae.Message,
		CurrentStatus: ae.CurrentStatus,
	})
	if ae.Err != nil {
		he = he.SetInternal(ae.Err)
	}
	return he
}
