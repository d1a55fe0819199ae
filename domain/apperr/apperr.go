// Package apperr is the application error taxonomy.
//
// Application services return *Error values; the HTTP adapter maps the Kind
// to a status code and writes the client-safe Message. The wrapped cause is
// for logs only.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an application error.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindInvalidCredentials
	KindInvalidToken
	KindForbidden
	KindQuotaExhausted
	KindNotFound
	KindRateLimited
	KindDownstream
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindInvalidToken:
		return "invalid_token"
	case KindForbidden:
		return "forbidden"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindDownstream:
		return "downstream_error"
	default:
		return "internal"
	}
}

// Error is an application error (value semantics, used by pointer).
type Error struct {
	Kind    Kind
	Code    string // machine-readable code, defaults to Kind.String()
	Message string // safe to show to clients
	Err     error  // cause, never shown to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode returns the code written to clients.
func (e *Error) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return e.Kind.String()
}

// HTTPStatus maps the kind to an HTTP status code.
func (e *Error) HTTPStatus() int {
	return StatusFor(e.Kind)
}

// StatusFor maps a kind to an HTTP status code.
func StatusFor(k Kind) int {
	switch k {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindInvalidToken:
		return http.StatusUnauthorized
	case KindForbidden, KindQuotaExhausted:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindDownstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Constructors.

func Validation(msg string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: msg, Err: cause}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "invalid identity or password"}
}

func InvalidToken(cause error) *Error {
	return &Error{Kind: KindInvalidToken, Message: "missing or invalid token", Err: cause}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func QuotaExhausted() *Error {
	return &Error{Kind: KindQuotaExhausted, Message: "usage quota exhausted, purchase more calls"}
}

func NotFound(msg string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: cause}
}

func RateLimited() *Error {
	return &Error{Kind: KindRateLimited, Message: "too many requests, slow down"}
}

func Downstream(cause error) *Error {
	return &Error{Kind: KindDownstream, Message: "prediction service unavailable", Err: cause}
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: cause}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// From converts any error to an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}
