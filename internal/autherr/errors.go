// Package autherr defines the error taxonomy surfaced by the authentication core.
// Every error carries a machine-readable code and an HTTP status hint; the
// boundary layer decides how to render it.
package autherr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error kind.
type Code string

const (
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeAlreadyExists      Code = "already_exists"
	CodeUnknownProvider    Code = "unknown_provider"
	CodeTokenMalformed     Code = "token_malformed"
	CodeInvalidTokenFormat Code = "invalid_token_format"
	CodeTokenInvalid       Code = "token_invalid"
	CodeTokenExpired       Code = "token_expired"
	CodeTokenRevoked       Code = "token_revoked"
	CodeKeyNotFound        Code = "key_not_found"
	CodeUnauthorized       Code = "unauthorized"
	CodeServiceError       Code = "service_error"
	CodeInvalidInput       Code = "invalid_input"
)

var statusByCode = map[Code]int{
	CodeInvalidCredentials: http.StatusUnauthorized,
	CodeAlreadyExists:      http.StatusConflict,
	CodeUnknownProvider:    http.StatusBadRequest,
	CodeTokenMalformed:     http.StatusBadRequest,
	CodeInvalidTokenFormat: http.StatusBadRequest,
	CodeTokenInvalid:       http.StatusUnauthorized,
	CodeTokenExpired:       http.StatusUnauthorized,
	CodeTokenRevoked:       http.StatusUnauthorized,
	CodeKeyNotFound:        http.StatusUnauthorized,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeServiceError:       http.StatusServiceUnavailable,
	CodeInvalidInput:       http.StatusBadRequest,
}

// Error is the typed error returned across the core's public surface.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Status returns the HTTP status hint for the error's code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an error of the given code.
func New(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidCredentials = New(CodeInvalidCredentials, "invalid credentials", nil)
	ErrAlreadyExists      = New(CodeAlreadyExists, "already exists", nil)
	ErrUnknownProvider    = New(CodeUnknownProvider, "unknown provider", nil)
	ErrTokenMalformed     = New(CodeTokenMalformed, "token malformed", nil)
	ErrInvalidTokenFormat = New(CodeInvalidTokenFormat, "invalid token format", nil)
	ErrTokenInvalid       = New(CodeTokenInvalid, "token invalid", nil)
	ErrTokenExpired       = New(CodeTokenExpired, "token expired", nil)
	ErrTokenRevoked       = New(CodeTokenRevoked, "token revoked", nil)
	ErrKeyNotFound        = New(CodeKeyNotFound, "signing key not found", nil)
	ErrUnauthorized       = New(CodeUnauthorized, "unauthorized", nil)
	ErrServiceError       = New(CodeServiceError, "service unavailable", nil)
	ErrInvalidInput       = New(CodeInvalidInput, "invalid input", nil)
)

func InvalidCredentials() *Error { return New(CodeInvalidCredentials, "invalid credentials", nil) }

func AlreadyExists(what string) *Error {
	return New(CodeAlreadyExists, what+" already exists", nil)
}

func UnknownProvider(name string) *Error {
	return New(CodeUnknownProvider, fmt.Sprintf("provider %q is not available", name), nil)
}

func TokenMalformed(cause error) *Error { return New(CodeTokenMalformed, "token malformed", cause) }

func InvalidTokenFormat(reason string) *Error {
	return New(CodeInvalidTokenFormat, reason, nil)
}

func TokenInvalid(cause error) *Error { return New(CodeTokenInvalid, "token invalid", cause) }
func TokenExpired(cause error) *Error { return New(CodeTokenExpired, "token expired", cause) }
func TokenRevoked() *Error            { return New(CodeTokenRevoked, "token revoked", nil) }

func KeyNotFound(kid string) *Error {
	return New(CodeKeyNotFound, fmt.Sprintf("no signing key for kid %q", kid), nil)
}

func Unauthorized(cause error) *Error { return New(CodeUnauthorized, "unauthorized", cause) }

// InvalidInput reports a registration payload that fails basic shape checks.
func InvalidInput(message string) *Error { return New(CodeInvalidInput, message, nil) }

func Service(message string, cause error) *Error {
	return New(CodeServiceError, message, cause)
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code of err, or "" when err is not a taxonomy error.
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return ""
}

// Wrap returns err unchanged when it already belongs to the taxonomy and
// otherwise converts it into a service error. Deadline and cancellation
// errors are reported as service errors as well.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Service("operation timed out", err)
	}
	return Service("internal failure", err)
}
