// Package httperrors carries the public JSON error shape of the API.
package httperrors

import (
	"fmt"
	"net/http"
)

const (
	TypeGeneric           = "generic"
	TypeValidation        = "validation"
	TypeNotFound          = "not_found"
	TypeInsufficientFunds = "insufficient_funds"
	TypeLimitExceeded     = "limit_exceeded"
	TypeConflict          = "conflict"
	TypeInvalidTransition = "invalid_transition"
)

// HTTPError is the wire format of every API error response.
type HTTPError struct {
	Code   int    `json:"status"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTPError %d (%s): %s", e.Code, e.Type, e.Title)
}

func NewHTTPError(code int, errType, title string) *HTTPError {
	return &HTTPError{Code: code, Type: errType, Title: title}
}

func NewHTTPErrorWithDetail(code int, errType, title, detail string) *HTTPError {
	return &HTTPError{Code: code, Type: errType, Title: title, Detail: detail}
}

var (
	ErrNotFound = NewHTTPError(http.StatusNotFound, TypeNotFound, "Resource not found.")

	ErrBadRequestMissingField = func(field string) *HTTPError {
		return NewHTTPErrorWithDetail(http.StatusBadRequest, TypeValidation, "Missing required field.", field)
	}
)
