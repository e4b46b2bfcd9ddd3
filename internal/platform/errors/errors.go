// Package errors provides typed errors that map onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/PalachSHAXA/kamizo-sub004/internal/domain"
)

// ErrorType is the category of an error, used for status mapping and metrics.
type ErrorType string

const (
	TypeValidation   ErrorType = "validation"
	TypeUnauthorized ErrorType = "unauthorized"
	TypeForbidden    ErrorType = "forbidden"
	TypeNotFound     ErrorType = "not_found"
	TypeConflict     ErrorType = "conflict"
	TypeUnavailable  ErrorType = "unavailable"
	TypeInternal     ErrorType = "internal"
	TypeExternal     ErrorType = "external"
)

// Error is a structured error with a type, a client-facing message and
// optional context fields.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

var statusByType = map[ErrorType]int{
	TypeValidation:   http.StatusBadRequest,
	TypeUnauthorized: http.StatusUnauthorized,
	TypeForbidden:    http.StatusForbidden,
	TypeNotFound:     http.StatusNotFound,
	TypeConflict:     http.StatusConflict,
	TypeUnavailable:  http.StatusServiceUnavailable,
	TypeInternal:     http.StatusInternalServerError,
	TypeExternal:     http.StatusBadGateway,
}

// HTTPStatus maps the type to a status code. Unknown types are 500.
func (e *Error) HTTPStatus() int {
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error   { return newError(TypeValidation, message, nil) }
func UnauthorizedError(message string) *Error { return newError(TypeUnauthorized, message, nil) }
func ForbiddenError(message string) *Error    { return newError(TypeForbidden, message, nil) }
func NotFoundError(message string) *Error     { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error     { return newError(TypeConflict, message, nil) }

func UnavailableError(message string, cause error) *Error {
	return newError(TypeUnavailable, message, cause)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithContext adds a context field to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into an *Error. Domain sentinels map
// to their matching type; anything else becomes an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	switch {
	case errors.Is(err, domain.ErrPartitionNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return newError(TypeNotFound, err.Error(), err)
	case errors.Is(err, domain.ErrUnknownCollection):
		return newError(TypeValidation, err.Error(), err)
	case errors.Is(err, domain.ErrDuplicateSession):
		return newError(TypeConflict, err.Error(), err)
	case errors.Is(err, domain.ErrPartitionFull), errors.Is(err, domain.ErrHubStopped):
		return newError(TypeUnavailable, err.Error(), err)
	}

	return InternalError("internal server error", err)
}
