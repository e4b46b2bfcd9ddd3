package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/PalachSHAXA/kamizo-sub004/internal/adapter/metrics"
	"github.com/labstack/echo/v4"
)

// Middleware renders errors returned by handlers as JSON. Echo's own
// HTTPErrors pass through to the default handler and are only counted.
func Middleware(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				m.Error(string(WrapHTTPError(httpErr).Type))
				return err
			}

			return render(c, m, AsStructuredError(err))
		}
	}
}

// HandleError renders err directly from a handler.
func HandleError(c echo.Context, m *metrics.HTTPMetrics, err error) error {
	if err == nil {
		return nil
	}
	return render(c, m, AsStructuredError(err))
}

func render(c echo.Context, m *metrics.HTTPMetrics, err *Error) error {
	m.Error(string(err.Type))
	logError(c, err)
	if writeErr := c.JSON(err.HTTPStatus(), err.ToResponse()); writeErr != nil {
		return fmt.Errorf("failed to write error response: %w", writeErr)
	}
	return nil
}

func logError(c echo.Context, err *Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if userID, ok := c.Get("userID").(string); ok {
		attrs = append(attrs, "user_id", userID)
	}

	switch err.Type {
	case TypeValidation, TypeNotFound, TypeUnauthorized, TypeForbidden:
		slog.InfoContext(ctx, "Request rejected", attrs...)
	case TypeConflict, TypeUnavailable:
		slog.WarnContext(ctx, "Request failed", attrs...)
	default:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Request failed", attrs...)
	}
}

// WrapHTTPError converts an echo.HTTPError into an *Error.
func WrapHTTPError(httpErr *echo.HTTPError) *Error {
	message := http.StatusText(httpErr.Code)
	if msg, ok := httpErr.Message.(string); ok {
		message = msg
	}

	var errType ErrorType
	switch httpErr.Code {
	case http.StatusBadRequest:
		errType = TypeValidation
	case http.StatusUnauthorized:
		errType = TypeUnauthorized
	case http.StatusForbidden:
		errType = TypeForbidden
	case http.StatusNotFound:
		errType = TypeNotFound
	case http.StatusConflict:
		errType = TypeConflict
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		errType = TypeUnavailable
	case http.StatusBadGateway:
		errType = TypeExternal
	default:
		errType = TypeInternal
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   httpErr.Internal,
		Context: make(map[string]any),
	}
}
