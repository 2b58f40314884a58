package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/apimarket/gateway/internal/httputil"
)

// Error is a domain error returned by gateway components.
// Handlers map these to HTTP responses.
type Error struct {
	Kind    ErrorKind
	Code    string // machine-readable code (e.g. "api_not_found")
	Message string // human-readable message
	Err     error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind classifies domain errors for HTTP status mapping.
type ErrorKind int

const (
	ErrBadRequest     ErrorKind = iota // 400
	ErrUnauthorized                    // 401
	ErrForbidden                       // 403
	ErrNotFound                        // 404
	ErrRateLimited                     // 429
	ErrInternal                        // 500
	ErrGatewayTimeout                  // 504
)

// HTTPStatus maps an ErrorKind to its HTTP status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func NewBadRequest(code, message string) *Error {
	return &Error{Kind: ErrBadRequest, Code: code, Message: message}
}

func NewNotFound(code, message string) *Error {
	return &Error{Kind: ErrNotFound, Code: code, Message: message}
}

func NewForbidden(code, message string) *Error {
	return &Error{Kind: ErrForbidden, Code: code, Message: message}
}

func NewInternal(code, message string) *Error {
	return &Error{Kind: ErrInternal, Code: code, Message: message}
}

// RespondError writes the HTTP response for a gateway error. Unrecognized
// errors become a generic 500 without leaking detail.
func RespondError(w http.ResponseWriter, err error) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		httputil.RespondError(w, gwErr.Kind.HTTPStatus(), gwErr.Code, gwErr.Message)
		return
	}
	httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
}

// StatusFor returns the HTTP status an error maps to, for logging and
// analytics rows.
func StatusFor(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind.HTTPStatus()
	}
	return http.StatusInternalServerError
}
